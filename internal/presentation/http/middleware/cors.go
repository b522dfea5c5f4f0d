package middleware

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:4321",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:4321",
	"http://[::1]:3000", // IPv6 localhost
	"http://[::1]:4321", // IPv6 localhost
}

// CORSMiddleware allows the page agents listed in origins to reach the
// capture API. A nil or empty list falls back to the local development
// origins; "*" allows every origin without credentials.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Requested-With", "Cache-Control",
			HeaderRequestID,
		},
		ExposeHeaders: []string{
			"Content-Type", "Cache-Control", "Connection", HeaderRequestID,
		},
	}

	switch {
	case len(origins) == 1 && strings.TrimSpace(origins[0]) == "*":
		config.AllowAllOrigins = true
	case len(origins) == 0:
		config.AllowOrigins = defaultOrigins
		config.AllowCredentials = true
	default:
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}

	return cors.New(config)
}
