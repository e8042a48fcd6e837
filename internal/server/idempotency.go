package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const headerIdempotencyKey = "Idempotency-Key"

func idempotencyKeyFromHeader(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
}

// resolveIdempotencyKey prefers the body field and falls back to the header.
func resolveIdempotencyKey(c *gin.Context, fromBody string) string {
	if key := strings.TrimSpace(fromBody); key != "" {
		return key
	}
	return idempotencyKeyFromHeader(c)
}
