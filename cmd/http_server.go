package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/purchase-core/internal/auth"
	authPostgres "github.com/frahmantamala/purchase-core/internal/auth/postgres"
	"github.com/frahmantamala/purchase-core/internal/product"
	"github.com/frahmantamala/purchase-core/internal/purchase"
	"github.com/frahmantamala/purchase-core/internal/risk"
	"github.com/frahmantamala/purchase-core/internal/transport"
	"github.com/frahmantamala/purchase-core/internal/transport/middleware"
	"github.com/frahmantamala/purchase-core/internal/transport/rest"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startHTTPServer(); err != nil {
			fmt.Fprintf(os.Stderr, "server: %v\n", err)
			os.Exit(1)
		}
	},
}

func startHTTPServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.Error("Database close error", "error", err)
		}
	}()

	router, err := setupRoutes(ctx, app)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		app.Logger.Info("Starting HTTP server", "address", addr)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		app.Logger.Info("Received signal, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	app.Logger.Info("Server stopped")
	return nil
}

func setupRoutes(ctx context.Context, app *application) (*chi.Mux, error) {
	cfg := app.Config
	base := transport.NewBaseHandler(app.Logger)

	authService := auth.NewService(
		authPostgres.NewRepository(app.Gorm),
		auth.NewJWTTokenGenerator(cfg.Security, app.Clock),
		cfg.Security.BCryptCost,
		app.Logger,
	)

	extra := map[string]rest.Pinger{}
	if app.Redis != nil {
		extra["redis"] = func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }
	}

	var validator *middleware.RequestValidator
	if cfg.Server.ValidateRequests {
		v, err := middleware.NewRequestValidator(ctx, cfg.Server.OpenAPIPath, rest.APIBasePath, app.Logger)
		if err != nil {
			return nil, err
		}
		validator = v
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Health:   rest.NewHealthHandler(app.DB, extra),
		Auth:     auth.NewHandler(base, authService),
		RBAC:     auth.NewRBACAuthorization(app.Logger),
		Purchase: purchase.NewHandler(base, app.Purchases),
		Product:  product.NewHandler(base, app.Products),
		Risk:     risk.NewHandler(base, app.Purchases),
	}, validator, cfg.Server.OpenAPIPath, app.Logger)

	return router, nil
}
