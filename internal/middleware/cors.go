package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// readOnlyMethods are the only methods the status server answers
var readOnlyMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// CORSConfig lists the origins allowed to poll the status server.
// "*" admits any origin.
type CORSConfig struct {
	Origins []string
	MaxAge  time.Duration
}

// DefaultCORSConfig admits any origin and lets browsers cache preflights
// for twelve hours.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{Origins: []string{"*"}, MaxAge: 12 * time.Hour}
}

// CORS grants cross-origin read access, including the stats websocket.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:    readOnlyMethods,
		AllowHeaders:    []string{"Accept", "Accept-Encoding", "Cache-Control", "Origin"},
		ExposeHeaders:   []string{"Content-Length"},
		AllowWebSockets: true,
		MaxAge:          cfg.MaxAge,
	}
	if len(cfg.Origins) == 0 || slices.Contains(cfg.Origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.Origins
	}
	return cors.New(cc)
}
