package service

import (
	"fmt"
	"path/filepath"

	"github.com/Kehn-Marv/Remorph/model"
	"github.com/Kehn-Marv/Remorph/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Visualizer 渲染取证热力图与叠加图到输出目录，核心流水线只持有返回的
// 文件引用。渲染失败不影响分析结果本身。
type Visualizer struct {
	outputDir string
}

func NewVisualizer(outputDir string) *Visualizer {
	return &Visualizer{outputDir: outputDir}
}

// Render 生成热力图（边缘与纹理响应的加权混合）和JET色彩叠加图，
// 返回对外的相对URL引用。
func (v *Visualizer) Render(img gocv.Mat, id string) model.Artifacts {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 80, 200)

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	lapNorm := gocv.NewMat()
	defer lapNorm.Close()
	gocv.Normalize(lap, &lapNorm, 0, 255, gocv.NormMinMax)

	lap8 := gocv.NewMat()
	defer lap8.Close()
	lapNorm.ConvertTo(&lap8, gocv.MatTypeCV8U)

	heat := gocv.NewMat()
	defer heat.Close()
	gocv.AddWeighted(edges, 0.7, lap8, 0.3, 0, &heat)

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(heat, &colored, gocv.ColormapJet)

	overlay := gocv.NewMat()
	defer overlay.Close()
	gocv.AddWeighted(colored, 0.45, img, 0.55, 0, &overlay)

	heatName := fmt.Sprintf("heat_%s.png", id)
	overlayName := fmt.Sprintf("overlay_%s.png", id)

	if ok := gocv.IMWrite(filepath.Join(v.outputDir, heatName), heat); !ok {
		utils.Logger.Error("failed to write heatmap", zap.String("id", id))
		return model.Artifacts{}
	}
	if ok := gocv.IMWrite(filepath.Join(v.outputDir, overlayName), overlay); !ok {
		utils.Logger.Error("failed to write overlay", zap.String("id", id))
		return model.Artifacts{HeatmapURL: "/files/" + heatName}
	}

	return model.Artifacts{
		HeatmapURL: "/files/" + heatName,
		OverlayURL: "/files/" + overlayName,
	}
}
