package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerverhq/zerver/internal/config"
	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/effector"
	"github.com/zerverhq/zerver/internal/httpfrontend"
	"github.com/zerverhq/zerver/internal/ports"
	"github.com/zerverhq/zerver/internal/reqctx"
	"github.com/zerverhq/zerver/internal/runtime"
	"github.com/zerverhq/zerver/internal/slot"
	"github.com/zerverhq/zerver/internal/step"
)

func newServeCmd(root *rootFlags, app *AppContext) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP frontend over the step/effect runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, logger := app.CommandContext(cmd, "command.serve")

			cfg := config.Default()
			if configPath != "" {
				if err := validateConfigPath(configPath); err != nil {
					return err
				}
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = *loaded
			}

			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults to built-in defaults)")

	return cmd
}

// healthStep answers GET /healthz without touching any effector, useful as
// a liveness probe for whatever deploys the binary.
var healthStep = step.New("health", nil, nil, func(ctx *reqctx.CtxBase, v *slot.View) (decision.Decision, error) {
	return decision.Done(decision.Response{
		Status:  200,
		Headers: []decision.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:    []byte(`{"status":"ok"}`),
	}), nil
})

func runServe(ctx context.Context, cfg config.Config, logger ports.Logger) error {
	backends := []effector.Effector{
		effector.NewHTTP(&http.Client{Timeout: 30 * time.Second}),
		effector.NewCache(),
	}

	rt, err := runtime.New(ctx, cfg, backends, nil, []runtime.Route{
		{Method: "GET", Path: "/healthz", Steps: []step.Step{healthStep}},
	})
	if err != nil {
		if logger != nil {
			logger.Error(ctx, "runtime construction failed", "error", err)
		}
		return err
	}

	srv := httpfrontend.New(cfg.Server.Addr, rt)

	serveErr := make(chan error, 1)
	go func() {
		if logger != nil {
			logger.Info(ctx, "listening", "addr", cfg.Server.Addr)
		}
		serveErr <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			if logger != nil {
				logger.Error(ctx, "server exited", "error", err)
			}
			return err
		}
	case <-sigCh:
		if logger != nil {
			logger.Info(ctx, "shutdown signal received")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		if logger != nil {
			logger.Error(ctx, "graceful shutdown failed", "error", err)
		}
		return err
	}
	return nil
}
