package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/insightpass/internal/migration"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status        string `json:"status"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

// Health
// GET /healthz
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}

	resp := healthResponse{Status: "ok"}
	if state, err := migration.LoadSchemaState(ctx, s.db); err == nil {
		resp.SchemaVersion = state.SchemaVersion
	}
	c.JSON(http.StatusOK, resp)
}
