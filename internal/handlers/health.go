package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/duetapp/duet/pkg/response"
)

// Health returns a simple status payload useful for readiness checks.
// When a database handle is supplied the connection is pinged too.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		if db != nil {
			sqlDB, err := db.DB()
			if err != nil || sqlDB.PingContext(requestContext(c)) != nil {
				status = "degraded"
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": status})
	}
}
