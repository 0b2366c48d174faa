package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kehn-Marv/Remorph/config"
	"github.com/Kehn-Marv/Remorph/model"
	"github.com/Kehn-Marv/Remorph/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QualityGate 决定样本是否有资格录入指纹库。accepted_for_learning
// 完全由标志推导。这是指纹库唯一的写入路径。
type QualityGate struct {
	store              *FingerprintStore
	faceConfThreshold  float64
	minSide            int
	acceptThreshold    float64
	duplicateThreshold float64
	newFamilyID        func() string
}

func NewQualityGate(store *FingerprintStore, cfg *config.Config) *QualityGate {
	return &QualityGate{
		store:              store,
		faceConfThreshold:  cfg.Analysis.FaceConfThreshold,
		minSide:            cfg.Analysis.MinSide,
		acceptThreshold:    cfg.Attribution.AcceptThreshold,
		duplicateThreshold: cfg.Attribution.DuplicateThreshold,
		newFamilyID: func() string {
			return "family_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
}

// Evaluate 计算质量标志。拒绝条件：人脸未找到、置信度不足、分辨率不足、
// 与已有指纹几乎重复（防止家族污染）。接受时选定目标家族：最优匹配
// 相似度达到接受阈值则归入该家族，否则分配新家族。
func (qg *QualityGate) Evaluate(face model.FaceRegion, feats model.FeatureVector, matches []model.AttributionMatch) model.QualityFlags {
	flags := model.QualityFlags{
		FaceFound:      face.Found,
		FaceConfidence: face.Confidence,
		MinSideOK:      min(face.Width, face.Height) >= qg.minSide,
	}
	reasons := []string{}

	if !face.Found {
		reasons = append(reasons, "no_face_found")
	}
	if face.Found && face.Confidence < qg.faceConfThreshold {
		reasons = append(reasons, fmt.Sprintf("low_face_conf<%.2f", qg.faceConfThreshold))
	}
	if !flags.MinSideOK {
		reasons = append(reasons, fmt.Sprintf("min_side<%d", qg.minSide))
	}

	if len(reasons) == 0 && len(matches) > 0 {
		best := matches[0]
		if best.Similarity >= qg.duplicateThreshold && qg.familyHasSamples(best.Family) {
			reasons = append(reasons, "duplicate_fingerprint")
		}
	}

	flags.Flags = reasons
	flags.AcceptedForLearning = len(reasons) == 0

	if flags.AcceptedForLearning {
		if len(matches) > 0 && matches[0].Similarity >= qg.acceptThreshold {
			flags.EnrolledFamily = matches[0].Family
		} else {
			flags.EnrolledFamily = qg.newFamilyID()
		}
	}

	return flags
}

// Process 评估样本并在接受时录入指纹库。ctx已取消时放弃录入，
// 保证取消的录入不会留下半成品状态。
func (qg *QualityGate) Process(ctx context.Context, face model.FaceRegion, feats model.FeatureVector, matches []model.AttributionMatch) (model.QualityFlags, error) {
	flags := qg.Evaluate(face, feats, matches)
	if !flags.AcceptedForLearning {
		return flags, nil
	}

	if err := ctx.Err(); err != nil {
		flags.AcceptedForLearning = false
		flags.EnrolledFamily = ""
		flags.Flags = append(flags.Flags, "enrollment_canceled")
		return flags, nil
	}

	if err := qg.store.AddSample(flags.EnrolledFamily, feats); err != nil {
		utils.Logger.Error("enrollment failed",
			zap.String("family", flags.EnrolledFamily), zap.Error(err))
		return flags, err
	}

	return flags, nil
}

func (qg *QualityGate) familyHasSamples(name string) bool {
	for _, snap := range qg.store.Snapshot() {
		if snap.Name == name {
			return snap.SampleCount > 0
		}
	}
	return false
}
