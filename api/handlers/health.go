package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oneinbox/mailsync/interfaces"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports the sync state of every registered account.
func Status(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"accounts": syncService.Status(),
		})
	}
}
