package webhook

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"option_bot/internal/engine"
	"option_bot/internal/modules/config"
	healthsvc "option_bot/internal/modules/health/service"
	"option_bot/internal/modules/webhook/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module поднимает публичный HTTP для сигналов TradingView.
func Module() fx.Option {
	return fx.Module("webhook",
		fx.Provide(
			func(cfg *config.Config, e *engine.Engine, state *healthsvc.State, log *zap.Logger) *service.Handler {
				h := service.NewHandler(e, cfg.Webhook.Secret, cfg.Webhook.Timeout, log)
				h.OnSignal = state.TouchSignal
				return h
			},
		),
		fx.Invoke(RunHTTP),
	)
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, h *service.Handler, log *zap.Logger) {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	h.Register(r)

	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.PublicPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			log.Info("webhook listening", zap.String("addr", addr))
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
