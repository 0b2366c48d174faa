package service

import (
	"image"
	"os"
	"sync"

	"github.com/Kehn-Marv/Remorph/model"
	"github.com/Kehn-Marv/Remorph/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FaceLocator 基于YuNet模型定位人脸区域。模型缺失时降级为整图分析，
// "没有人脸"是正常结果而不是错误。
type FaceLocator struct {
	detector  gocv.FaceDetectorYN
	available bool
	minScore  float32
	mu        sync.Mutex
}

func NewFaceLocator(modelPath string) *FaceLocator {
	fl := &FaceLocator{minScore: 0.6}

	if _, err := os.Stat(modelPath); err != nil {
		utils.Logger.Warn("face detection model not found, falling back to whole-image analysis",
			zap.String("path", modelPath))
		return fl
	}

	detector := gocv.NewFaceDetectorYN(modelPath, "", image.Pt(320, 320))
	detector.SetScoreThreshold(fl.minScore)
	detector.SetNMSThreshold(0.3)
	detector.SetTopK(50)

	fl.detector = detector
	fl.available = true
	utils.Logger.Info("face detector initialized", zap.String("model", modelPath))
	return fl
}

func (fl *FaceLocator) Available() bool {
	return fl.available
}

// Locate 返回用于后续分析的区域与定位信息。找到人脸时返回置信度最高的
// 人脸裁剪；否则返回整图。返回的Mat由调用方负责Close。
func (fl *FaceLocator) Locate(img gocv.Mat) (gocv.Mat, model.FaceRegion) {
	whole := model.FaceRegion{
		Found:      false,
		Confidence: 0,
		Width:      img.Cols(),
		Height:     img.Rows(),
	}

	if !fl.available {
		return img.Clone(), whole
	}

	fl.mu.Lock()
	faces := gocv.NewMat()
	fl.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))
	fl.detector.Detect(img, &faces)
	fl.mu.Unlock()
	defer faces.Close()

	if faces.Empty() || faces.Rows() == 0 {
		return img.Clone(), whole
	}

	// 每行15个float：x,y,w,h + 5组关键点 + score
	bestRow := 0
	bestScore := faces.GetFloatAt(0, 14)
	for r := 1; r < faces.Rows(); r++ {
		if s := faces.GetFloatAt(r, 14); s > bestScore {
			bestScore = s
			bestRow = r
		}
	}

	x := int(faces.GetFloatAt(bestRow, 0))
	y := int(faces.GetFloatAt(bestRow, 1))
	w := int(faces.GetFloatAt(bestRow, 2))
	h := int(faces.GetFloatAt(bestRow, 3))

	rect := image.Rect(x, y, x+w, y+h).Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		utils.Logger.Warn("detector returned degenerate face rect, using whole image")
		return img.Clone(), whole
	}

	view := img.Region(rect)
	face := view.Clone()
	view.Close()

	return face, model.FaceRegion{
		Found:      true,
		Confidence: float64(bestScore),
		Width:      rect.Dx(),
		Height:     rect.Dy(),
	}
}

func (fl *FaceLocator) Close() {
	if fl.available {
		fl.detector.Close()
	}
}
