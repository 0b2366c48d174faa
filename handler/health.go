package handler

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Kehn-Marv/Remorph/config"
	"github.com/Kehn-Marv/Remorph/service"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	cfg     *config.Config
	locator *service.FaceLocator
	deep    *service.DeepModelScorer
	store   *service.FingerprintStore
	redis   *service.RedisService
}

func NewHealthHandler(cfg *config.Config, locator *service.FaceLocator, deep *service.DeepModelScorer,
	store *service.FingerprintStore, redis *service.RedisService) *HealthHandler {
	return &HealthHandler{
		cfg:     cfg,
		locator: locator,
		deep:    deep,
		store:   store,
		redis:   redis,
	}
}

// Health 组件可用性检查。指纹库故障时分析接口会失败，这里仍要能上报。
func (h *HealthHandler) Health(c *gin.Context) {
	outputExists := dirExists(h.cfg.Paths.OutputDir)
	fingerprintsExist := fileExists(h.cfg.Paths.FingerprintsPath)
	weightsExist := fileExists(h.cfg.Paths.WeightsPath)

	status := "healthy"
	if !outputExists || !fingerprintsExist {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"components": gin.H{
			"output_directory": outputExists,
			"fingerprints_db":  fingerprintsExist,
			"model_weights":    weightsExist,
			"face_detector":    h.locator.Available(),
		},
		"paths": gin.H{
			"output_dir":   h.cfg.Paths.OutputDir,
			"fingerprints": h.cfg.Paths.FingerprintsPath,
			"weights":      h.cfg.Paths.WeightsPath,
		},
	})
}

// DetailedHealth 每个组件的状态描述
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	components := map[string]string{
		"heuristic_detector": "available",
	}

	if h.deep.Available() {
		components["deep_model"] = "available"
	} else {
		components["deep_model"] = "weights_not_found"
	}

	if h.locator.Available() {
		components["face_detector"] = "available"
	} else {
		components["face_detector"] = "model_not_found"
	}

	components["attribution_index"] = fmt.Sprintf("available (%d families)", len(h.store.Families()))

	if err := h.redis.Ping(c.Request.Context()); err != nil {
		components["result_cache"] = fmt.Sprintf("error: %v", err)
	} else {
		components["result_cache"] = "available"
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"components": components,
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
