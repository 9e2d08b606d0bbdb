package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mvanberg/mlarrays/server"
)

var (
	serveAddr        string
	serveMetricsAddr string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve datasets over TCP",
	Long: `Serve datasets over TCP:
  mlarrays serve --addr :7341 --metrics-addr :9090

Set MLARRAYS_AUTH_ENABLED=true and MLARRAYS_AUTH_TOKEN to require a
token on every request.
  `,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":7341", "listen address")
	serveCmd.Flags().StringVarP(&serveMetricsAddr, "metrics-addr", "m", "", "Prometheus metrics listen address, disabled when empty")

	if err := viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("metrics_addr", serveCmd.Flags().Lookup("metrics-addr")); err != nil {
		panic(err)
	}
}

func runServe() error {
	auth := server.NewAuthenticatorFromEnv()
	if auth.IsEnabled() && os.Getenv("MLARRAYS_AUTH_TOKEN") == "" {
		log.Info().Str("token", auth.Token()).Msg("generated auth token")
	}

	metrics, registry := server.NewMetrics("mlarrays")
	handler := server.NewHandler(auth, metrics, log)
	srv := server.NewServer(handler, metrics, log)

	addr := viper.GetString("addr")
	if err := srv.StartAsync(addr); err != nil {
		return err
	}

	metricsAddr := viper.GetString("metrics_addr")
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", server.MetricsHandler(registry))
		metricsSrv := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer metricsSrv.Close()
		log.Info().Str("address", metricsAddr).Msg("metrics server listening")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	srv.Stop()
	return nil
}
