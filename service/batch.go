package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Kehn-Marv/Remorph/config"
	"github.com/Kehn-Marv/Remorph/model"
	"github.com/Kehn-Marv/Remorph/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchImage 批处理中的一张待分析图片
type BatchImage struct {
	Filename string
	Data     []byte
}

// AnalyzeFunc 单图分析入口，便于测试时替换真实流水线
type AnalyzeFunc func(ctx context.Context, data []byte, filename string) (*model.AnalysisResult, error)

// BatchProcessor 以有界并行度将单图分析扇出到批内各项。单项失败被捕获为
// 该项的error结果，不影响其余项；最终结果顺序与提交顺序一致。
type BatchProcessor struct {
	analyze      AnalyzeFunc
	maxBatchSize int
	parallelism  int
}

func NewBatchProcessor(analyze AnalyzeFunc, cfg *config.Config) *BatchProcessor {
	parallelism := cfg.Analysis.BatchParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &BatchProcessor{
		analyze:      analyze,
		maxBatchSize: cfg.Analysis.MaxBatchSize,
		parallelism:  parallelism,
	}
}

// Process 处理一批图片。数量不在[1,max]内时整批拒绝，不处理任何条目。
func (bp *BatchProcessor) Process(ctx context.Context, images []BatchImage) (*model.BatchResult, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	if len(images) > bp.maxBatchSize {
		return nil, fmt.Errorf("%w: maximum %d images per batch", ErrInvalidInput, bp.maxBatchSize)
	}

	batchID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	startTime := time.Now()

	utils.Logger.Info("batch analysis started",
		zap.String("batch_id", batchID),
		zap.Int("images", len(images)))

	results := make([]model.BatchItem, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.parallelism)

	for i, img := range images {
		g.Go(func() error {
			results[i] = bp.processItem(gctx, img)
			return nil
		})
	}

	// 单项错误都被捕获为结果值，Wait不会返回错误
	_ = g.Wait()

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}

	utils.Logger.Info("batch analysis complete",
		zap.String("batch_id", batchID),
		zap.Int("successful", successful),
		zap.Int("total", len(images)),
		zap.Duration("duration", time.Since(startTime)))

	return &model.BatchResult{
		BatchID:     batchID,
		TotalImages: len(images),
		Results:     results,
	}, nil
}

// processItem 带故障边界地处理单项，panic也转换为error结果
func (bp *BatchProcessor) processItem(ctx context.Context, img BatchImage) (item model.BatchItem) {
	item.ID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	defer func() {
		if r := recover(); r != nil {
			utils.Logger.Error("panic during batch item analysis",
				zap.String("item_id", item.ID), zap.Any("panic", r))
			item.Success = false
			item.Result = nil
			item.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		item.Error = "canceled before processing"
		return item
	}

	result, err := bp.analyze(ctx, img.Data, img.Filename)
	if err != nil {
		item.Error = err.Error()
		return item
	}

	item.Success = true
	item.Result = result
	return item
}
