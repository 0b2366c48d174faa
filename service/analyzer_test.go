package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/Kehn-Marv/Remorph/config"
	"github.com/Kehn-Marv/Remorph/model"
	"gocv.io/x/gocv"
)

type stubExtractor struct {
	feats model.FeatureVector
}

func (s stubExtractor) Extract(img gocv.Mat) (model.FeatureVector, error) {
	out := make(model.FeatureVector, len(s.feats))
	for k, v := range s.feats {
		out[k] = v
	}
	return out, nil
}

type nopRenderer struct{}

func (nopRenderer) Render(img gocv.Mat, id string) model.Artifacts {
	return model.Artifacts{}
}

// wholeImageLocator 模拟检测器可用但图中没有人脸的情况
type wholeImageLocator struct{}

func (wholeImageLocator) Available() bool { return true }

func (wholeImageLocator) Locate(img gocv.Mat) (gocv.Mat, model.FaceRegion) {
	return img.Clone(), model.FaceRegion{Found: false, Width: img.Cols(), Height: img.Rows()}
}

func newAnalyzerConfig() *config.Config {
	return &config.Config{
		Analysis: config.AnalysisConfig{
			MaxConcurrent:     2,
			QueueTimeout:      time.Second,
			ItemTimeout:       5 * time.Second,
			MinSide:           224,
			MaxDimension:      4096,
			FaceConfThreshold: 0.90,
			Heuristic:         defaultHeuristicConfig(),
		},
		Attribution: config.AttributionConfig{
			AcceptThreshold:    0.92,
			DuplicateThreshold: 0.995,
		},
	}
}

func newTestAnalyzer(t *testing.T, locator faceFinder, deep deepScorer) *Analyzer {
	t.Helper()
	store := newEmptyStore(t)
	cfg := newAnalyzerConfig()
	a := NewAnalyzer(cfg, locator, deep,
		NewAttributionEngine(store, 0), NewQualityGate(store, cfg), nopRenderer{})
	a.extractor = stubExtractor{feats: baseFeatures()}
	return a
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 13), uint8((x + y) * 3), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// 模型文件全部缺失时分析仍要成功：启发式分数照常产出，
// 深度模型字段省略，降级以备注记录
func TestAnalyzeDegradesWithoutModels(t *testing.T) {
	dir := t.TempDir()
	locator := NewFaceLocator(filepath.Join(dir, "missing_face.onnx"))
	defer locator.Close()
	deep := NewDeepModelScorer(filepath.Join(dir, "missing_weights.onnx"))
	defer deep.Close()

	a := newTestAnalyzer(t, locator, deep)

	result, err := a.AnalyzeBytes(context.Background(), pngBytes(t, 64, 64), "sample.png")
	if err != nil {
		t.Fatalf("AnalyzeBytes: %v", err)
	}

	if s := result.Scores.HeuristicDeepfakeScore; s < 0 || s > 1 {
		t.Errorf("heuristic score %f out of [0,1]", s)
	}
	if result.Scores.DeepModelScore != nil {
		t.Errorf("deep score present without weights: %v", *result.Scores.DeepModelScore)
	}
	if len(result.Scores.DeepModelProbs) != 0 {
		t.Errorf("deep probs present without weights: %v", result.Scores.DeepModelProbs)
	}
	if !slices.Contains(result.Notes, "deep model unavailable") {
		t.Errorf("missing deep model note: %v", result.Notes)
	}
	if !slices.Contains(result.Notes, "face detector unavailable, analyzed whole image") {
		t.Errorf("missing face detector note: %v", result.Notes)
	}
	if result.Face.Found {
		t.Error("face reported found without a detector")
	}
	if result.Quality.AcceptedForLearning {
		t.Error("faceless sample accepted for learning")
	}
	if !slices.Contains(result.Quality.Flags, "no_face_found") {
		t.Errorf("missing no_face_found flag: %v", result.Quality.Flags)
	}
}

// 检测器可用但没检出人脸：整图进入流水线，结果完整组装，
// 不出现检测器降级备注
func TestAnalyzeWholeImageWhenNoFace(t *testing.T) {
	deep := NewDeepModelScorer(filepath.Join(t.TempDir(), "missing_weights.onnx"))
	defer deep.Close()

	a := newTestAnalyzer(t, wholeImageLocator{}, deep)

	result, err := a.AnalyzeBytes(context.Background(), pngBytes(t, 64, 64), "no_face.png")
	if err != nil {
		t.Fatalf("AnalyzeBytes: %v", err)
	}

	if result.ID == "" {
		t.Error("missing result id")
	}
	if result.Filename != "no_face.png" {
		t.Errorf("filename = %q", result.Filename)
	}
	if result.Face.Found {
		t.Error("face reported found")
	}
	// 64x64低于最小分析边长，先放大到256
	if result.Face.Width != 256 || result.Face.Height != 256 {
		t.Errorf("whole-image region = %dx%d, want 256x256", result.Face.Width, result.Face.Height)
	}
	if slices.Contains(result.Notes, "face detector unavailable, analyzed whole image") {
		t.Errorf("unexpected degradation note with available detector: %v", result.Notes)
	}
	if len(result.Features) == 0 {
		t.Error("features missing from assembled result")
	}
	if len(result.Attribution) != 0 {
		t.Errorf("expected no matches against empty store, got %v", result.Attribution)
	}
	if !slices.Contains(result.Quality.Flags, "no_face_found") {
		t.Errorf("missing no_face_found flag: %v", result.Quality.Flags)
	}
}

func TestAnalyzeRejectsOversizedImage(t *testing.T) {
	deep := NewDeepModelScorer(filepath.Join(t.TempDir(), "missing_weights.onnx"))
	defer deep.Close()

	a := newTestAnalyzer(t, wholeImageLocator{}, deep)

	_, err := a.AnalyzeBytes(context.Background(), pngBytes(t, 4100, 2), "huge.png")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("oversized image error = %v, want ErrInvalidInput", err)
	}
}

func TestExifSummaryAbsentMetadata(t *testing.T) {
	if s := exifSummary(pngBytes(t, 8, 8)); s != nil {
		t.Errorf("exif summary for plain png = %v, want nil", s)
	}
	if s := exifSummary([]byte("not an image")); s != nil {
		t.Errorf("exif summary for garbage = %v, want nil", s)
	}
}
