package middleware

import "github.com/gin-gonic/gin"

// NoStore marks responses as private session state that intermediaries must not keep.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
