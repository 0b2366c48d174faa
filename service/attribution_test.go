package service

import (
	"testing"

	"github.com/Kehn-Marv/Remorph/model"
)

func TestMatchEmptyStore(t *testing.T) {
	engine := NewAttributionEngine(newEmptyStore(t), 0)

	matches := engine.Match(model.FeatureVector{"ela_mean": 1})
	if len(matches) != 0 {
		t.Errorf("expected empty matches, got %v", matches)
	}
}

func TestMatchEmptyQuery(t *testing.T) {
	engine := NewAttributionEngine(newTestStore(t), 0)

	if matches := engine.Match(model.FeatureVector{}); len(matches) != 0 {
		t.Errorf("expected no matches for empty query, got %v", matches)
	}
}

func TestMatchOrderingAndBounds(t *testing.T) {
	store := newTestStore(t) // 3个默认家族
	engine := NewAttributionEngine(store, 0)

	query := model.FeatureVector{
		"fft_high_ratio": 0.62, "ela_mean": 18.0, "lap_var": 120.0, "jpeg_score": 0.55,
	}
	matches := engine.Match(query)

	if len(matches) != 3 {
		t.Fatalf("expected all 3 families, got %d", len(matches))
	}
	seen := map[string]bool{}
	for i, m := range matches {
		if m.Similarity < 0 || m.Similarity > 1 {
			t.Errorf("similarity %f out of [0,1]", m.Similarity)
		}
		if seen[m.Family] {
			t.Errorf("duplicate family %s in matches", m.Family)
		}
		seen[m.Family] = true
		if i > 0 && matches[i-1].Similarity < m.Similarity {
			t.Errorf("matches not sorted descending at index %d", i)
		}
	}
	// 查询向量等于faceswap_blend质心，它必须排第一
	if matches[0].Family != "faceswap_blend" {
		t.Errorf("best match = %s, want faceswap_blend", matches[0].Family)
	}
}

func TestMatchTopKTruncation(t *testing.T) {
	engine := NewAttributionEngine(newTestStore(t), 2)

	matches := engine.Match(model.FeatureVector{"ela_mean": 10, "fft_high_ratio": 0.5})
	if len(matches) != 2 {
		t.Errorf("topK=2 returned %d matches", len(matches))
	}
}

// 相同分数按家族名升序，保证结果确定
func TestMatchTieBreakByName(t *testing.T) {
	store := newEmptyStore(t)
	feats := model.FeatureVector{"ela_mean": 4, "lap_var": 8}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := store.AddSample(name, feats); err != nil {
			t.Fatal(err)
		}
	}

	engine := NewAttributionEngine(store, 0)
	matches := engine.Match(feats)

	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, m := range matches {
		if m.Family != want[i] {
			t.Errorf("tie order[%d] = %s, want %s", i, m.Family, want[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := model.FeatureVector{"x": 1, "y": 2}

	if sim := CosineSimilarity(a, a); sim < 0.999 {
		t.Errorf("self similarity = %f, want ~1", sim)
	}
	if sim := CosineSimilarity(a, model.FeatureVector{"z": 5}); sim != 0 {
		t.Errorf("no common keys similarity = %f, want 0", sim)
	}
	// 正交向量在公共键上
	b := model.FeatureVector{"x": 0, "y": 3}
	c := model.FeatureVector{"x": 3, "y": 0}
	if sim := CosineSimilarity(b, c); sim > 1e-6 {
		t.Errorf("orthogonal similarity = %f, want ~0", sim)
	}
}

func TestSimilarityPluggable(t *testing.T) {
	engine := NewAttributionEngine(newTestStore(t), 0)
	engine.Similarity = func(q, c model.FeatureVector) float64 { return 0.5 }

	matches := engine.Match(model.FeatureVector{"ela_mean": 1})
	for _, m := range matches {
		if m.Similarity != 0.5 {
			t.Errorf("custom similarity not used: %f", m.Similarity)
		}
	}
}
