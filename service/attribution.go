package service

import (
	"math"
	"sort"

	"github.com/Kehn-Marv/Remorph/model"
)

// SimilarityFunc 查询向量与家族质心间的相似度，结果应落在[0,1]
type SimilarityFunc func(query, centroid model.FeatureVector) float64

// AttributionEngine 将样本特征与指纹库中每个家族比对并排序。
// 相似度函数可替换，默认余弦相似度。
type AttributionEngine struct {
	store      *FingerprintStore
	topK       int
	Similarity SimilarityFunc
}

// NewAttributionEngine topK<=0 表示返回全部家族
func NewAttributionEngine(store *FingerprintStore, topK int) *AttributionEngine {
	return &AttributionEngine{
		store:      store,
		topK:       topK,
		Similarity: CosineSimilarity,
	}
}

// Match 返回按相似度严格降序的top-k匹配，相同分数按家族名升序，
// 保证结果确定。库为空时返回空序列。
func (ae *AttributionEngine) Match(feats model.FeatureVector) []model.AttributionMatch {
	if len(feats) == 0 {
		return []model.AttributionMatch{}
	}

	snaps := ae.store.Snapshot()
	matches := make([]model.AttributionMatch, 0, len(snaps))

	for _, snap := range snaps {
		sim := ae.Similarity(feats, snap.Features)
		matches = append(matches, model.AttributionMatch{
			Family:     snap.Name,
			Similarity: sim,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Family < matches[j].Family
	})

	if ae.topK > 0 && len(matches) > ae.topK {
		matches = matches[:ae.topK]
	}
	return matches
}

// CosineSimilarity 在查询与质心的公共特征键上计算余弦相似度。
// 没有公共键时为0。特征值非负，结果截断到[0,1]。
func CosineSimilarity(query, centroid model.FeatureVector) float64 {
	var dot, normQ, normC float64
	common := 0

	for k, cv := range centroid {
		qv, ok := query[k]
		if !ok {
			continue
		}
		common++
		dot += qv * cv
		normQ += qv * qv
		normC += cv * cv
	}

	if common == 0 {
		return 0
	}

	sim := dot / ((math.Sqrt(normQ) + 1e-8) * (math.Sqrt(normC) + 1e-8))
	return math.Min(1.0, math.Max(0.0, sim))
}
