package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"orderpay-backend/internal/shared/response"
)

// Recovery chặn panic từ handlers - consumer và job paths có recovery
// riêng, middleware này chỉ lo HTTP surface
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Str("request_id", c.GetString("request_id")).
					Str("path", c.Request.URL.Path).
					Interface("error", err).
					Msg("Panic recovered")

				response.ErrorResponse(c, http.StatusInternalServerError,
					"SYS001", "internal server error")
				c.Abort()
			}
		}()

		c.Next()
	}
}
