package service

import (
	"math"

	"github.com/Kehn-Marv/Remorph/config"
	"github.com/Kehn-Marv/Remorph/model"
)

// HeuristicScorer 将特征向量组合为[0,1]的启发式风险分数。
// 纯函数：对任意合法特征向量总有定义，且对每个异常指示特征
// （fft_high_ratio、ela_mean、lap_var）单调不减。
type HeuristicScorer struct {
	weights config.HeuristicConfig
}

func NewHeuristicScorer(weights config.HeuristicConfig) *HeuristicScorer {
	return &HeuristicScorer{weights: weights}
}

// Score 加权组合后过sigmoid，结果截断到[0,1]
func (hs *HeuristicScorer) Score(feats model.FeatureVector) float64 {
	w := hs.weights

	x := w.FFTWeight*feats["fft_high_ratio"] +
		w.ELAWeight*(feats["ela_mean"]/50.0) +
		w.LapWeight*(feats["lap_var"]/200.0) -
		w.JPEGWeight*feats["jpeg_score"]

	s := 1.0 / (1.0 + math.Exp(-w.Steepness*(x-w.Threshold)))

	return math.Min(1.0, math.Max(0.0, s))
}
