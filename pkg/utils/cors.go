package utils

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Cors lets a ui served from another origin drive the api. The histogram
// verdict travels in a response header, so it is exposed too.
func Cors(exposed ...string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowMethods = []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"}
	cfg.AddAllowHeaders("Authorization", "Accept", "X-Requested-With")
	cfg.ExposeHeaders = append([]string{"Content-Length", "Content-Type"}, exposed...)
	cfg.MaxAge = 12 * time.Hour

	return cors.New(cfg)
}
