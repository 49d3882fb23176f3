package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/api"
	"github.com/pahproject/catalogdb/internal/histogram"
	"github.com/pahproject/catalogdb/internal/storage"
)

// ServeCmd serves the read-only HTTP API.
type ServeCmd struct {
	DB   string `arg:"" help:"Database name"`
	Host string `help:"Listen host (default from config)"`
	Port int    `help:"Listen port (default from config)"`
}

func (c *ServeCmd) Run(app *App) error {
	host, port := app.cfg.HTTP.Host, app.cfg.HTTP.Port
	if c.Host != "" {
		host = c.Host
	}
	if c.Port != 0 {
		port = c.Port
	}

	return app.withStore(c.DB, func(s *storage.Store) error {
		if logrus.GetLevel() < logrus.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(gin.Logger())
		router.Use(gin.Recovery())

		handler := api.NewHandler(s, version, histogram.Options{
			Threshold: app.cfg.Histogram.Threshold,
			Bins:      app.cfg.Histogram.Bins,
		})
		api.SetupRoutes(router, handler)

		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           router,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logrus.WithFields(logrus.Fields{
				"addr":     srv.Addr,
				"database": s.Path(),
			}).Info("Starting catalogdb server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return nil
		case <-app.ctx.Done():
		}
		logrus.Info("Shutting down server...")

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logrus.Info("Server exited")
		return nil
	})
}
