package service

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Kehn-Marv/Remorph/model"
)

func newTestStore(t *testing.T) *FingerprintStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fingerprints.json")
	store, err := NewFingerprintStore(path)
	if err != nil {
		t.Fatalf("NewFingerprintStore: %v", err)
	}
	return store
}

func newEmptyStore(t *testing.T) *FingerprintStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fingerprints.json")
	if err := os.WriteFile(path, []byte(`{"version":1,"families":[]}`), 0644); err != nil {
		t.Fatal(err)
	}
	store, err := NewFingerprintStore(path)
	if err != nil {
		t.Fatalf("NewFingerprintStore: %v", err)
	}
	return store
}

func TestStoreSeedsDefaultsWhenMissing(t *testing.T) {
	store := newTestStore(t)

	families := store.Families()
	if len(families) != 3 {
		t.Fatalf("expected 3 seeded families, got %d", len(families))
	}
	// 默认库的样本计数为0
	for _, snap := range store.Snapshot() {
		if snap.SampleCount != 0 {
			t.Errorf("seeded family %s has sample_count %d", snap.Name, snap.SampleCount)
		}
	}

	if _, err := os.Stat(store.Path()); err != nil {
		t.Errorf("seeded store not persisted: %v", err)
	}
}

func TestStoreSeedsDefaultsWhenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprints.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := NewFingerprintStore(path)
	if err != nil {
		t.Fatalf("NewFingerprintStore: %v", err)
	}
	if len(store.Families()) != 3 {
		t.Errorf("expected defaults after corrupt load, got %v", store.Families())
	}
}

func TestAddSampleAccounting(t *testing.T) {
	store := newEmptyStore(t)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return ts }

	feats := model.FeatureVector{"ela_mean": 10, "fft_high_ratio": 0.5}
	const n = 7
	for i := 0; i < n; i++ {
		if err := store.AddSample("test_family", feats); err != nil {
			t.Fatalf("AddSample: %v", err)
		}
	}

	snaps := store.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 family, got %d", len(snaps))
	}
	if snaps[0].SampleCount != n {
		t.Errorf("sample_count = %d, want %d", snaps[0].SampleCount, n)
	}
	if snaps[0].LastUpdated == nil || *snaps[0].LastUpdated != ts.Format(time.RFC3339) {
		t.Errorf("last_updated = %v, want %s", snaps[0].LastUpdated, ts.Format(time.RFC3339))
	}
}

func TestAddSampleIncrementalMean(t *testing.T) {
	store := newEmptyStore(t)

	values := []float64{10, 20, 60}
	for _, v := range values {
		if err := store.AddSample("fam", model.FeatureVector{"ela_mean": v}); err != nil {
			t.Fatal(err)
		}
	}

	snap := store.Snapshot()[0]
	want := (10.0 + 20.0 + 60.0) / 3.0
	if got := snap.Features["ela_mean"]; math.Abs(got-want) > 1e-9 {
		t.Errorf("centroid ela_mean = %f, want %f", got, want)
	}
}

func TestAddSamplePersistsToDisk(t *testing.T) {
	store := newEmptyStore(t)

	if err := store.AddSample("persist_me", model.FeatureVector{"ela_mean": 5}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var db struct {
		Version  int `json:"version"`
		Families []struct {
			Name        string `json:"name"`
			SampleCount int    `json:"sample_count"`
		} `json:"families"`
	}
	if err := json.Unmarshal(data, &db); err != nil {
		t.Fatalf("persisted file not valid json: %v", err)
	}
	if len(db.Families) != 1 || db.Families[0].Name != "persist_me" || db.Families[0].SampleCount != 1 {
		t.Errorf("unexpected persisted state: %+v", db)
	}

	// 重新加载也要能读回
	reloaded, err := NewFingerprintStore(store.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Families(); len(got) != 1 || got[0] != "persist_me" {
		t.Errorf("reloaded families = %v", got)
	}
}

// 同一家族的并发录入不能丢更新
func TestConcurrentEnrollmentSameFamily(t *testing.T) {
	store := newEmptyStore(t)

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := store.AddSample("contended", model.FeatureVector{"ela_mean": 1}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	snap := store.Snapshot()[0]
	if snap.SampleCount != writers*perWriter {
		t.Errorf("sample_count = %d, want %d", snap.SampleCount, writers*perWriter)
	}
}

// 每次录入都落盘，且磁盘上的最终状态必须包含全部并发录入：
// 较旧的快照不能在锁竞争后覆盖较新的文件内容
func TestConcurrentEnrollmentPersistsAllUpdates(t *testing.T) {
	store := newEmptyStore(t)

	const writers = 6
	const perWriter = 8

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			family := "fam_a"
			if w%2 == 1 {
				family = "fam_b"
			}
			for i := 0; i < perWriter; i++ {
				if err := store.AddSample(family, model.FeatureVector{"ela_mean": 1}); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// 重启后从磁盘读回的计数必须与内存一致
	reloaded, err := NewFingerprintStore(store.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	total := 0
	for _, snap := range reloaded.Snapshot() {
		total += snap.SampleCount
	}
	if total != writers*perWriter {
		t.Errorf("persisted sample total = %d, want %d", total, writers*perWriter)
	}
}

// 读写并发下快照不能观察到半更新的质心
func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	store := newEmptyStore(t)
	if err := store.AddSample("fam_a", model.FeatureVector{"ela_mean": 1, "lap_var": 1}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = store.AddSample("fam_a", model.FeatureVector{"ela_mean": 1, "lap_var": 1})
			_ = store.AddSample("fam_b", model.FeatureVector{"ela_mean": 2})
		}
	}()

	for i := 0; i < 200; i++ {
		for _, snap := range store.Snapshot() {
			if snap.Name == "fam_a" {
				// 质心是常数样本的增量均值，任何一致快照中都应保持不变
				if math.Abs(snap.Features["ela_mean"]-1) > 1e-9 || math.Abs(snap.Features["lap_var"]-1) > 1e-9 {
					t.Fatalf("inconsistent centroid snapshot: %+v", snap.Features)
				}
			}
		}
	}
	<-done
}
