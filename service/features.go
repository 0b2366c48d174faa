package service

import (
	"fmt"
	"image"

	"github.com/Kehn-Marv/Remorph/model"
	"gocv.io/x/gocv"
)

// FeatureSchemaVersion 特征schema版本，所有样本共享同一组键，
// 跨样本相似度计算依赖这一点。
const FeatureSchemaVersion = 1

// FeatureNames schema v1 的全部特征键
var FeatureNames = []string{
	"ela_mean",
	"fft_high_ratio",
	"lap_var",
	"jpeg_score",
	"edge_density",
	"color_variance",
}

// FeatureExtractor 从图像区域计算取证特征向量。对相同输入输出完全确定。
type FeatureExtractor struct{}

func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract 计算完整特征向量。仅当区域退化（零面积）时返回错误。
func (fe *FeatureExtractor) Extract(img gocv.Mat) (model.FeatureVector, error) {
	if img.Empty() || img.Cols() == 0 || img.Rows() == 0 {
		return nil, fmt.Errorf("%w: degenerate image region", ErrProcessing)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	elaMean, err := fe.errorLevel(img)
	if err != nil {
		return nil, err
	}

	jpegScore, err := fe.jpegQuantScore(img)
	if err != nil {
		return nil, err
	}

	return model.FeatureVector{
		"ela_mean":       elaMean,
		"fft_high_ratio": fe.fftHighRatio(gray),
		"lap_var":        fe.laplacianVariance(gray),
		"jpeg_score":     jpegScore,
		"edge_density":   fe.edgeDensity(gray),
		"color_variance": fe.colorVariance(img),
	}, nil
}

// fftHighRatio 高频能量占比。频谱未做中心化，直流分量位于四角，
// 因此低频能量为四个角块之和。
func (fe *FeatureExtractor) fftHighRatio(gray gocv.Mat) float64 {
	const frac = 0.25

	f32 := gocv.NewMat()
	defer f32.Close()
	gray.ConvertTo(&f32, gocv.MatTypeCV32F)

	spectrum := gocv.NewMat()
	defer spectrum.Close()
	gocv.DFT(f32, &spectrum, gocv.DftComplexOutput)

	planes := gocv.Split(spectrum)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()

	mag := gocv.NewMat()
	defer mag.Close()
	gocv.Magnitude(planes[0], planes[1], &mag)

	h, w := mag.Rows(), mag.Cols()
	ry := int(float64(h) * frac / 2)
	rx := int(float64(w) * frac / 2)
	if ry == 0 || rx == 0 {
		return 0
	}

	corners := []image.Rectangle{
		image.Rect(0, 0, rx, ry),
		image.Rect(w-rx, 0, w, ry),
		image.Rect(0, h-ry, rx, h),
		image.Rect(w-rx, h-ry, w, h),
	}

	low := 0.0
	for _, r := range corners {
		region := mag.Region(r)
		low += region.Sum().Val1
		region.Close()
	}

	total := mag.Sum().Val1 + 1e-8
	return (total - low) / total
}

// laplacianVariance 拉普拉斯方差，衡量纹理锐度
func (fe *FeatureExtractor) laplacianVariance(gray gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	return sd * sd
}

// errorLevel 以q90重压缩后与原图的差异均值，按最大差异归一化
func (fe *FeatureExtractor) errorLevel(img gocv.Mat) (float64, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, 90})
	if err != nil {
		return 0, fmt.Errorf("%w: jpeg re-encode: %v", ErrProcessing, err)
	}
	defer buf.Close()

	recompressed, err := gocv.IMDecode(buf.GetBytes(), gocv.IMReadColor)
	if err != nil {
		return 0, fmt.Errorf("%w: jpeg re-decode: %v", ErrProcessing, err)
	}
	defer recompressed.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(img, recompressed, &diff)

	mean := diff.Mean()
	meanAll := (mean.Val1 + mean.Val2 + mean.Val3) / 3

	grayDiff := gocv.NewMat()
	defer grayDiff.Close()
	gocv.CvtColor(diff, &grayDiff, gocv.ColorBGRToGray)

	_, maxVal, _, _ := gocv.MinMaxLoc(grayDiff)
	if maxVal <= 0 {
		return 0, nil
	}
	return meanAll * 255.0 / float64(maxVal), nil
}

// jpegQuantScore 量化痕迹的粗略代理：q95重压缩后再以q75压缩，比较体积
func (fe *FeatureExtractor) jpegQuantScore(img gocv.Mat) (float64, error) {
	buf95, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, 95})
	if err != nil {
		return 0, fmt.Errorf("%w: jpeg encode: %v", ErrProcessing, err)
	}
	defer buf95.Close()

	re, err := gocv.IMDecode(buf95.GetBytes(), gocv.IMReadColor)
	if err != nil {
		return 0, fmt.Errorf("%w: jpeg decode: %v", ErrProcessing, err)
	}
	defer re.Close()

	buf75, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, re, []int{gocv.IMWriteJpegQuality, 75})
	if err != nil {
		return 0, fmt.Errorf("%w: jpeg encode: %v", ErrProcessing, err)
	}
	defer buf75.Close()

	s95 := len(buf95.GetBytes())
	if s95 == 0 {
		return 0, nil
	}
	return float64(len(buf75.GetBytes())) / float64(s95), nil
}

// edgeDensity 边缘像素占比
func (fe *FeatureExtractor) edgeDensity(gray gocv.Mat) float64 {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	edgePixels := float64(gocv.CountNonZero(edges))
	totalPixels := float64(gray.Rows() * gray.Cols())

	return edgePixels / totalPixels
}

// colorVariance Lab空间各通道标准差的均值
func (fe *FeatureExtractor) colorVariance(img gocv.Mat) float64 {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(img, &lab, gocv.ColorBGRToLab)

	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lab, &mean, &stddev)

	variance := 0.0
	for i := 0; i < stddev.Rows(); i++ {
		variance += stddev.GetDoubleAt(i, 0)
	}

	return variance / float64(stddev.Rows())
}
