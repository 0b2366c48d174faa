package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Kehn-Marv/Remorph/config"
	"github.com/Kehn-Marv/Remorph/model"
	"github.com/Kehn-Marv/Remorph/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// 分析前的最小边长，小于该值的图像先放大
const analysisMinSide = 256

// 流水线各阶段以窄接口接入，便于替换实现

type faceFinder interface {
	Locate(img gocv.Mat) (gocv.Mat, model.FaceRegion)
	Available() bool
}

type featureSource interface {
	Extract(img gocv.Mat) (model.FeatureVector, error)
}

type deepScorer interface {
	Predict(ctx context.Context, img gocv.Mat) (*DeepPrediction, error)
}

type artifactRenderer interface {
	Render(img gocv.Mat, id string) model.Artifacts
}

// Analyzer 对单张图片顺序执行定位、特征提取、打分、归因与质量门控，
// 并组装结果。信号量在编排器边界做准入限流，避免并发请求耗尽资源。
type Analyzer struct {
	locator    faceFinder
	extractor  featureSource
	heuristic  *HeuristicScorer
	deep       deepScorer
	engine     *AttributionEngine
	gate       *QualityGate
	visualizer artifactRenderer

	semaphore    chan struct{}
	queueTimeout time.Duration
	itemTimeout  time.Duration
	maxDimension int
}

func NewAnalyzer(cfg *config.Config, locator faceFinder, deep deepScorer,
	engine *AttributionEngine, gate *QualityGate, visualizer artifactRenderer) *Analyzer {
	return &Analyzer{
		locator:      locator,
		extractor:    NewFeatureExtractor(),
		heuristic:    NewHeuristicScorer(cfg.Analysis.Heuristic),
		deep:         deep,
		engine:       engine,
		gate:         gate,
		visualizer:   visualizer,
		semaphore:    make(chan struct{}, cfg.Analysis.MaxConcurrent),
		queueTimeout: cfg.Analysis.QueueTimeout,
		itemTimeout:  cfg.Analysis.ItemTimeout,
		maxDimension: cfg.Analysis.MaxDimension,
	}
}

// AnalyzeBytes 分析一张图片并返回完整结果。不可解码的输入返回
// ErrProcessing；深度模型不可用只降级为备注，不会中止流水线。
func (a *Analyzer) AnalyzeBytes(ctx context.Context, data []byte, filename string) (*model.AnalysisResult, error) {
	queueCtx, cancel := context.WithTimeout(ctx, a.queueTimeout)
	defer cancel()

	select {
	case a.semaphore <- struct{}{}:
		defer func() { <-a.semaphore }()
	case <-queueCtx.Done():
		return nil, fmt.Errorf("%w: analysis queue full", ErrProcessing)
	}

	itemCtx, cancelItem := context.WithTimeout(ctx, a.itemTimeout)
	defer cancelItem()

	startTime := time.Now()
	id := utils.GenerateID()

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || img.Empty() {
		if err == nil {
			err = errors.New("empty image")
		}
		return nil, fmt.Errorf("%w: undecodable image: %v", ErrProcessing, err)
	}
	defer img.Close()

	if a.maxDimension > 0 && max(img.Cols(), img.Rows()) > a.maxDimension {
		return nil, fmt.Errorf("%w: image %dx%d exceeds maximum dimension %d",
			ErrInvalidInput, img.Cols(), img.Rows(), a.maxDimension)
	}

	a.upscaleIfSmall(&img)

	region, face := a.locator.Locate(img)
	defer region.Close()

	feats, err := a.extractor.Extract(region)
	if err != nil {
		return nil, err
	}

	scores := model.Scores{
		HeuristicDeepfakeScore: a.heuristic.Score(feats),
	}

	notes := []string{}
	if !a.locator.Available() {
		notes = append(notes, "face detector unavailable, analyzed whole image")
	}

	pred, err := a.deep.Predict(itemCtx, region)
	if err != nil {
		if !errors.Is(err, ErrModelUnavailable) {
			return nil, err
		}
		notes = append(notes, "deep model unavailable")
	} else {
		scores.DeepModelScore = &pred.Score
		scores.DeepModelProbs = pred.Probs
		notes = append(notes, "deep model used")
	}

	matches := a.engine.Match(feats)

	quality, err := a.gate.Process(itemCtx, face, feats, matches)
	if err != nil {
		return nil, err
	}

	artifacts := a.visualizer.Render(region, id)

	result := &model.AnalysisResult{
		ID:          id,
		Filename:    filename,
		Face:        face,
		Quality:     quality,
		Scores:      scores,
		Features:    feats,
		Attribution: matches,
		Files:       artifacts,
		Exif:        exifSummary(data),
		Notes:       notes,
	}

	utils.Logger.Info("image analyzed",
		zap.String("id", id),
		zap.Bool("face_found", face.Found),
		zap.Float64("heuristic_score", scores.HeuristicDeepfakeScore),
		zap.Bool("accepted_for_learning", quality.AcceptedForLearning),
		zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

// upscaleIfSmall 最小边不足时等比放大，保证特征统计有足够像素
func (a *Analyzer) upscaleIfSmall(img *gocv.Mat) {
	minDim := min(img.Cols(), img.Rows())
	if minDim >= analysisMinSide || minDim == 0 {
		return
	}

	scale := float64(analysisMinSide) / float64(minDim)
	newWidth := int(float64(img.Cols()) * scale)
	newHeight := int(float64(img.Rows()) * scale)

	resized := gocv.NewMat()
	gocv.Resize(*img, &resized, image.Point{X: newWidth, Y: newHeight}, 0, 0, gocv.InterpolationLinear)
	img.Close()
	*img = resized
}
