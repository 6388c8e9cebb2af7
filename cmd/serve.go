package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/monitoring"
	"github.com/sells-group/dialer-cli/internal/server"
)

var (
	servePort     int
	serveNoChecks bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AI Rudder callback and operations API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDialer(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: server.New(env.Store, env.Reconciler, server.Config{
				CallbackToken: cfg.AIRudder.CallbackToken,
				APIToken:      cfg.Server.APIToken,
				CORSOrigins:   cfg.Server.CORSOrigins,
				Location:      env.Pipeline.Location(),
				Metrics:       env.Metrics.Handler(),
				Breakers:      env.Breakers,
			}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if !serveNoChecks {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				env.Alerter,
				env.Metrics,
				time.Duration(cfg.Slack.CheckIntervalSecs)*time.Second,
				env.Pipeline.Location(),
			)
			go checker.Run(ctx)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoChecks, "no-checks", false, "disable the background alert checker")
	rootCmd.AddCommand(serveCmd)
}
