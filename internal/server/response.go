package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func respondReceived(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"received": true})
}
