package service

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/Kehn-Marv/Remorph/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DeepPrediction 深度模型输出
type DeepPrediction struct {
	Score float64
	Probs []float64
}

// DeepModelScorer 包装外部提供的推理模型。权重缺失或推理失败时报告
// 不可用而不是抛错，由编排器降级处理。模型在进程生命周期内常驻内存。
type DeepModelScorer struct {
	net       gocv.Net
	available bool
	mu        sync.Mutex
}

func NewDeepModelScorer(weightsPath string) *DeepModelScorer {
	ds := &DeepModelScorer{}

	if _, err := os.Stat(weightsPath); err != nil {
		utils.Logger.Warn("deep model weights not found, scorer disabled",
			zap.String("path", weightsPath))
		return ds
	}

	net := gocv.ReadNet(weightsPath, "")
	if net.Empty() {
		utils.Logger.Error("failed to load deep model", zap.String("path", weightsPath))
		return ds
	}

	ds.net = net
	ds.available = true
	utils.Logger.Info("deep model loaded", zap.String("weights", weightsPath))
	return ds
}

func (ds *DeepModelScorer) Available() bool {
	return ds.available
}

// Predict 对人脸区域推理，返回风险分数与类别概率分布。
// ctx超时或取消时放弃等待（推理goroutine自行结束后释放资源）。
func (ds *DeepModelScorer) Predict(ctx context.Context, img gocv.Mat) (*DeepPrediction, error) {
	if !ds.available {
		return nil, ErrModelUnavailable
	}

	// Forward会改动网络内部缓冲，推理必须串行
	input := img.Clone()

	type outcome struct {
		pred *DeepPrediction
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer input.Close()
		pred, err := ds.infer(input)
		done <- outcome{pred, err}
	}()

	select {
	case out := <-done:
		return out.pred, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: inference timed out", ErrModelUnavailable)
	}
}

func (ds *DeepModelScorer) infer(img gocv.Mat) (*DeepPrediction, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(224, 224),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	ds.net.SetInput(blob, "")
	out := ds.net.Forward("")
	defer out.Close()

	if out.Empty() || out.Cols() == 0 {
		return nil, fmt.Errorf("%w: empty network output", ErrModelUnavailable)
	}

	logits := make([]float64, out.Cols())
	for i := 0; i < out.Cols(); i++ {
		logits[i] = float64(out.GetFloatAt(0, i))
	}

	probs := softmax(logits)

	var score float64
	if len(probs) == 1 {
		score = probs[0]
	} else {
		score = 1.0 - probs[1]
	}

	return &DeepPrediction{Score: score, Probs: probs}, nil
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	sum := 0.0
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = math.Exp(v - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func (ds *DeepModelScorer) Close() {
	if ds.available {
		ds.net.Close()
	}
}
