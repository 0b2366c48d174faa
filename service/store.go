package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Kehn-Marv/Remorph/model"
	"github.com/Kehn-Marv/Remorph/utils"
	"go.uber.org/zap"
)

const fingerprintDBVersion = 1

// familyRecord 指纹文件中单个家族的持久化形态
type familyRecord struct {
	Name         string              `json:"name"`
	FeaturesMean model.FeatureVector `json:"features_mean"`
	SampleCount  int                 `json:"sample_count"`
	LastUpdated  *string             `json:"last_updated"`
}

type fingerprintDB struct {
	Version  int            `json:"version"`
	Families []familyRecord `json:"families"`
}

// FamilySnapshot 某一时刻单个家族的一致性快照
type FamilySnapshot struct {
	Name        string
	Features    model.FeatureVector
	SampleCount int
	LastUpdated *string
}

type familyEntry struct {
	mu  sync.Mutex
	rec familyRecord
}

// FingerprintStore 持久化的家族指纹库。启动时从磁盘加载，每次录入后落盘。
// 家族级互斥：同一家族的并发录入串行化，不同家族互不阻塞；
// 读取在家族锁内拷贝质心，保证读到的质心不是半更新状态。
type FingerprintStore struct {
	path     string
	mu       sync.RWMutex // 保护families的成员关系
	families map[string]*familyEntry
	saveMu   sync.Mutex // 串行化文件写入
	now      func() time.Time
}

// NewFingerprintStore 加载指纹库。文件缺失或损坏时写入默认家族；
// 既无法读取也无法初始化时返回错误。
func NewFingerprintStore(path string) (*FingerprintStore, error) {
	s := &FingerprintStore{
		path:     path,
		families: make(map[string]*familyEntry),
		now:      time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read %s: %v", ErrStore, path, err)
		}
		utils.Logger.Warn("fingerprints file not found, seeding defaults", zap.String("path", path))
		s.seedDefaults()
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}

	var db fingerprintDB
	if err := json.Unmarshal(data, &db); err != nil {
		utils.Logger.Error("invalid fingerprints file, seeding defaults",
			zap.String("path", path), zap.Error(err))
		s.seedDefaults()
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}

	for _, rec := range db.Families {
		s.families[rec.Name] = &familyEntry{rec: rec}
	}

	utils.Logger.Info("fingerprint store loaded",
		zap.String("path", path),
		zap.Int("families", len(s.families)))
	return s, nil
}

func (s *FingerprintStore) seedDefaults() {
	defaults := []familyRecord{
		{
			Name: "faceswap_blend",
			FeaturesMean: model.FeatureVector{
				"fft_high_ratio": 0.62, "ela_mean": 18.0, "lap_var": 120.0, "jpeg_score": 0.55,
			},
		},
		{
			Name: "diffusion_inpaint",
			FeaturesMean: model.FeatureVector{
				"fft_high_ratio": 0.68, "ela_mean": 12.0, "lap_var": 160.0, "jpeg_score": 0.35,
			},
		},
		{
			Name: "stylegan_family",
			FeaturesMean: model.FeatureVector{
				"fft_high_ratio": 0.75, "ela_mean": 9.5, "lap_var": 180.0, "jpeg_score": 0.4,
			},
		},
	}

	for _, rec := range defaults {
		s.families[rec.Name] = &familyEntry{rec: rec}
	}
}

// Snapshot 全部家族的一致性快照，按家族名升序
func (s *FingerprintStore) Snapshot() []FamilySnapshot {
	s.mu.RLock()
	entries := make([]*familyEntry, 0, len(s.families))
	for _, e := range s.families {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	snaps := make([]FamilySnapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		feats := make(model.FeatureVector, len(e.rec.FeaturesMean))
		for k, v := range e.rec.FeaturesMean {
			feats[k] = v
		}
		snaps = append(snaps, FamilySnapshot{
			Name:        e.rec.Name,
			Features:    feats,
			SampleCount: e.rec.SampleCount,
			LastUpdated: e.rec.LastUpdated,
		})
		e.mu.Unlock()
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// Families 全部家族名，升序
func (s *FingerprintStore) Families() []string {
	snaps := s.Snapshot()
	names := make([]string, len(snaps))
	for i, snap := range snaps {
		names[i] = snap.Name
	}
	return names
}

// Stats 指纹库统计
func (s *FingerprintStore) Stats() model.AttributionStats {
	snaps := s.Snapshot()

	stats := model.AttributionStats{
		TotalFamilies: len(snaps),
		Families:      make([]model.FamilyStats, 0, len(snaps)),
	}
	for _, snap := range snaps {
		stats.TotalSamples += snap.SampleCount
		stats.Families = append(stats.Families, model.FamilyStats{
			Name:        snap.Name,
			SampleCount: snap.SampleCount,
			LastUpdated: snap.LastUpdated,
		})
	}
	return stats
}

// Path 指纹文件路径
func (s *FingerprintStore) Path() string {
	return s.path
}

// AddSample 将一个已通过质量门控的样本录入家族，家族不存在时隐式创建。
// 质心按增量均值更新：m += (x - m) / (n + 1)。
func (s *FingerprintStore) AddSample(familyName string, feats model.FeatureVector) error {
	s.mu.Lock()
	entry, ok := s.families[familyName]
	if !ok {
		entry = &familyEntry{rec: familyRecord{
			Name:         familyName,
			FeaturesMean: make(model.FeatureVector),
		}}
		s.families[familyName] = entry
		utils.Logger.Info("created attribution family", zap.String("family", familyName))
	}
	s.mu.Unlock()

	entry.mu.Lock()
	n := entry.rec.SampleCount
	for k, v := range feats {
		if cur, ok := entry.rec.FeaturesMean[k]; ok {
			entry.rec.FeaturesMean[k] = cur + (v-cur)/float64(n+1)
		} else {
			entry.rec.FeaturesMean[k] = v
		}
	}
	entry.rec.SampleCount = n + 1
	ts := s.now().UTC().Format(time.RFC3339)
	entry.rec.LastUpdated = &ts
	entry.mu.Unlock()

	utils.Logger.Info("attribution family updated",
		zap.String("family", familyName),
		zap.Int("samples", n+1))

	return s.save()
}

func (s *FingerprintStore) save() error {
	// 快照必须在saveMu内获取：若先快照再排队等锁，后写入文件的可能是
	// 较旧的快照，磁盘会丢掉并发录入的更新
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snaps := s.Snapshot()

	db := fingerprintDB{Version: fingerprintDBVersion, Families: make([]familyRecord, 0, len(snaps))}
	for _, snap := range snaps {
		db.Families = append(db.Families, familyRecord{
			Name:         snap.Name,
			FeaturesMean: snap.Features,
			SampleCount:  snap.SampleCount,
			LastUpdated:  snap.LastUpdated,
		})
	}

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrStore, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ErrStore, err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStore, s.path, err)
	}
	return nil
}
