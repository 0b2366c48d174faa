package handler

import (
	"net/http"

	"github.com/Kehn-Marv/Remorph/service"
	"github.com/gin-gonic/gin"
)

type StatsHandler struct {
	store *service.FingerprintStore
}

func NewStatsHandler(store *service.FingerprintStore) *StatsHandler {
	return &StatsHandler{store: store}
}

// Stats 指纹库只读快照
func (h *StatsHandler) Stats(c *gin.Context) {
	stats := h.store.Stats()

	c.JSON(http.StatusOK, gin.H{
		"attribution": stats,
		"system": gin.H{
			"fingerprints_path": h.store.Path(),
			"total_families":    stats.TotalFamilies,
		},
	})
}

// Families 全部家族名
func (h *StatsHandler) Families(c *gin.Context) {
	families := h.store.Families()

	c.JSON(http.StatusOK, gin.H{
		"families": families,
		"count":    len(families),
	})
}
