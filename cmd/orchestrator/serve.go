package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	nraiform "github.com/bcgov/nr-ai-form"
	"github.com/bcgov/nr-ai-form/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator HTTP server",
	Long: `Starts the orchestrator, exposing discovery, health, invoke and the
WebSocket channel used by the gateway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}

		logger, err := nraiform.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		logger = logger.WithComponent("orchestrator")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o, err := nraiform.New(ctx, cfg, func(opts *nraiform.Options) { opts.Logger = logger })
		if err != nil {
			return err
		}
		defer func() {
			if err := o.Close(); err != nil {
				logger.Warn("Closing session store failed", "error", err)
			}
		}()

		if check, _ := cmd.Flags().GetBool("check-branches"); check {
			checkCtx, cancel := context.WithTimeout(ctx, cfg.Workflow.BranchTimeout)
			for name, st := range o.CheckBranches(checkCtx) {
				if st.Healthy {
					logger.Info("Branch reachable", "branch", name, "status", st.Status)
				} else {
					logger.Warn("Branch unreachable", "branch", name, "status", st.Status, "detail", st.Detail)
				}
			}
			cancel()
		}

		return server.ListenAndServe(ctx, cfg.Server.Addr(), o.Handler(), cfg.Server.ShutdownTimeout, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().Bool("check-branches", true, "Check every skill agent's health endpoint at startup")
}
