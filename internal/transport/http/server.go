package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
)

const indexBody = "Realtime, hello!"

// realtimePattern routes WebSocket upgrades. They stay off the gin engine
// because gin refuses to hijack a response whose header was already flushed.
const realtimePattern = "GET /realtime/{uuid}/{channel}/"

// NewServer builds an HTTP server with the liveness and realtime routes.
func NewServer(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	mux := stdhttp.NewServeMux()
	mux.Handle(realtimePattern, NewWSHandler(hub, cfg, logger))
	mux.Handle("/", NewRouter(logger))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers the plain HTTP routes on a gin engine.
func NewRouter(logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/", indexHandler)
	router.GET("/health", healthHandler)

	return router
}

func indexHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, indexBody)
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
