package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"partner_portal/internal/auth"
	httpserver "partner_portal/internal/http"
	"partner_portal/internal/http/handlers"
	"partner_portal/internal/live"
	"partner_portal/internal/models"
	"partner_portal/internal/rbac"
	"partner_portal/internal/stages"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := live.NewHub(a.log)
	deps := &handlers.Deps{
		DB:        a.gdb,
		Partners:  a.store.Partners,
		Documents: a.store.Library(models.KindDocument),
		Templates: a.store.Library(models.KindTemplate),
		Blobs:     a.store.Blobs,
		Stages:    stages.NewCache(a.store.Settings, a.cfg.Portal.DefaultStages, a.log),
		Live:      hub,
		Sessions:  auth.NewSessions(a.rdb),
		Checker:   rbac.NewChecker(),
		Log:       a.log,
		Portal:    a.cfg.Portal,

		JWTSecret:      a.cfg.JWTSecret,
		SecureCookies:  a.cfg.Production(),
		UploadMaxBytes: a.cfg.UploadMaxMB << 20,
		LoginRateLimit: a.cfg.LoginRateLimit,
	}
	r := httpserver.NewRouter(deps, httpserver.Options{
		ViewsGlob: a.cfg.ViewsGlob,
		StaticDir: a.cfg.StaticDir,
		Hub:       hub,
	})

	srv := &http.Server{
		Addr:              ":" + a.cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server listening", zap.String("addr", srv.Addr), zap.String("env", a.cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(ctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
