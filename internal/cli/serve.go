package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/httpapi"
	"github.com/taskdeck/taskdeck/internal/otel"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		dev        bool
		apiKey     string
		dbDriver   string
		dbURL      string
		enableOtel bool
		noSeed     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the taskdeck server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if apiKey != "" {
				cfg.APIKey = apiKey
			}
			if dbDriver != "" {
				cfg.DB.Driver = dbDriver
			}
			if dbURL != "" {
				cfg.DB.URL = dbURL
			}
			if noSeed {
				cfg.Seed = false
			}

			var metricsHandler http.Handler
			if enableOtel {
				metricsHandler, err = otel.InitMeterProvider(cmd.Context(), "taskdeck")
				if err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
				if err := otel.InitMetrics(cmd.Context()); err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
			}

			app, err := httpapi.NewApp(httpapi.ServerOptions{
				Home:           home,
				Addr:           cfg.Addr,
				Dev:            dev,
				APIKey:         cfg.APIKey,
				DBDriver:       cfg.DB.Driver,
				DBURL:          cfg.DB.URL,
				MetricsHandler: metricsHandler,
				UseOtelHTTP:    enableOtel,
				Agents:         cfg.Roster(),
				HistoryWindow:  cfg.Chat.HistoryWindow,
				CascadeDelete:  cfg.CascadeDelete,
				Seed:           cfg.Seed,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Server.ListenAndServe()
			}()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "taskdeck listening on http://%s\n", cfg.Addr)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return app.Server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config; default 127.0.0.1:8815)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require X-API-Key on requests (overrides config)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Store driver: sqlite or postgres (overrides config)")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string for postgres (overrides config)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter on /metrics)")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "Skip demo data seeding on startup")

	return cmd
}
