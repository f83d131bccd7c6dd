// internal/web/database_handlers.go - history purge and database stats
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (s *Server) setupDatabaseRoutes() {
	db := s.router.Group("/api/database")
	{
		db.GET("/stats", s.getDatabaseStats)
		db.DELETE("/purge", s.purgeHistory)
	}
}

func (s *Server) getDatabaseStats(c *gin.Context) {
	stats, err := s.engine.Store().GetDatabaseStats(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get database stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// DELETE /api/database/purge - without ?before= the configured retention is
// applied.
func (s *Server) purgeHistory(c *gin.Context) {
	var (
		deleted int
		err     error
	)

	if v := c.Query("before"); v != "" {
		cutoff, parseErr := time.Parse(time.RFC3339, v)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be RFC3339"})
			return
		}
		deleted, err = s.engine.PurgeBefore(c.Request.Context(), cutoff)
	} else {
		deleted, err = s.engine.PurgeHistory(c.Request.Context())
	}
	if err != nil {
		respondError(c, err, "Failed to purge history")
		return
	}

	logrus.WithField("deleted", deleted).Info("History purge requested through API")

	c.JSON(http.StatusOK, gin.H{
		"message":   "History purged",
		"deleted":   deleted,
		"timestamp": s.engine.Clock().Now(),
	})
}
