package sim

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openfibsem/gofibsem/internal/observability"
)

// serveAdmin runs the HTTP admin surface: health, instrument state,
// and prometheus metrics.
func (s *Service) serveAdmin(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(log.Logger, s.cfg.InstrumentID))
	router.Use(observability.RequestMetricsMiddleware(s.cfg.InstrumentID))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"uptime":        time.Since(s.started).String(),
			"instrument_id": s.cfg.InstrumentID,
			"model":         s.cfg.Model,
		})
	})

	router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.instrument.State())
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: s.cfg.AdminAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", s.cfg.AdminAddr).Msg("sim admin listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("sim admin server failed")
	}
}
