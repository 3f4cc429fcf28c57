package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ringi/internal/config"
	"ringi/internal/logging"
	"ringi/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := checkServeAuth(cfg.Server); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			handler, err := server.New(server.Config{
				Engine:   rt.engine,
				BasePath: cfg.Server.BasePath,
				Logger:   logger,
				Metrics:  rt.metrics,
				Auth: server.AuthConfig{
					JWTSecret:          cfg.Server.JWTSecret,
					AllowLegacyHeaders: cfg.Server.AllowLegacyHeaders,
					DevAuth:            cfg.Server.DevAuth,
				},
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown", zap.Error(err))
				}
			}()
			logger.Info("serving ringi API",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_path", cfg.Server.BasePath),
				zap.String("driver", rt.conn.Dialect.Driver),
				zap.Bool("name_cache", rt.cache != nil),
				zap.Int("webhooks", len(cfg.Notifications.Webhooks)),
			)
			fmt.Printf("Serving ringi API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "listen address (overrides server.addr)")
	flags.String("base-path", "", "API base path (overrides server.base_path)")
	flags.Bool("dev-auth", false, "enable POST /auth/dev/login")
	flags.Bool("allow-legacy-headers", false, "accept X-Tenant-Id and X-Actor-Id without a token")
	_ = viper.BindPFlag("server.addr", flags.Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", flags.Lookup("base-path"))
	_ = viper.BindPFlag("server.dev_auth", flags.Lookup("dev-auth"))
	_ = viper.BindPFlag("server.allow_legacy_headers", flags.Lookup("allow-legacy-headers"))
	return cmd
}

// checkServeAuth refuses to start a server nobody can authenticate against.
func checkServeAuth(cfg config.ServerConfig) error {
	if cfg.DevAuth && cfg.JWTSecret == "" {
		return fmt.Errorf("server.dev_auth needs server.jwt_secret (RINGI_SERVER_JWT_SECRET) to sign tokens")
	}
	if cfg.JWTSecret == "" && !cfg.AllowLegacyHeaders {
		return fmt.Errorf("server.jwt_secret (RINGI_SERVER_JWT_SECRET) is required unless server.allow_legacy_headers is set")
	}
	return nil
}
