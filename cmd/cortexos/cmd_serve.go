package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cortexos/internal/engine"
	"cortexos/internal/webhook"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for signed webhook deliveries and execute them",
	Long: `Serve starts an HTTP listener on the configured webhook endpoint.
Each accepted delivery carries a JSON body {"prompt": "..."} and runs through
the same pipeline as the execute command, one run at a time.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := serveAddr
	if addr == "" {
		addr = cfg.Webhook.Addr
	}

	// Deliveries queue behind a single pipeline; the webhook handler only
	// acknowledges receipt.
	type delivery struct {
		webhookID string
		prompt    string
	}
	queue := make(chan delivery, 16)

	router := webhook.Router(webhook.Config{
		Path:   cfg.Webhook.Path,
		Secret: cfg.Webhook.Secret,
		Handler: func(webhookID string, body []byte) {
			var payload struct {
				Prompt string `json:"prompt"`
			}
			if err := json.Unmarshal(body, &payload); err != nil || payload.Prompt == "" {
				logger.Warn("delivery has no prompt", zap.String("webhook_id", webhookID))
				return
			}
			select {
			case queue <- delivery{webhookID: webhookID, prompt: payload.Prompt}:
			default:
				logger.Warn("delivery dropped, queue full", zap.String("webhook_id", webhookID))
			}
		},
	})

	srv := &http.Server{Addr: addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("webhook listener started",
		zap.String("addr", addr), zap.String("path", cfg.Webhook.Path))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case d := <-queue:
			eng, err := engine.New(cfg, engine.Options{})
			if err != nil {
				logger.Warn("engine setup failed", zap.String("webhook_id", d.webhookID), zap.Error(err))
				continue
			}
			res := eng.Execute(ctx, d.prompt)
			logger.Info("delivery executed",
				zap.String("webhook_id", d.webhookID),
				zap.Bool("success", res.Success),
				zap.Float64("cost_usd", res.CostUSD))
		}
	}
}
