package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	nraiform "github.com/bcgov/nr-ai-form"
	"github.com/bcgov/nr-ai-form/server"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the connection gateway",
	Long: `Starts the gateway that keeps one WebSocket connection per session to the
orchestrator and exposes POST /invoke-via-gateway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Gateway.Port = port
		}
		if url, _ := cmd.Flags().GetString("agent-url"); url != "" {
			cfg.Gateway.AgentServerURL = url
		}

		logger, err := nraiform.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		logger = logger.WithComponent("gateway")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		gs, err := nraiform.NewGatewayServer(cfg, func(opts *nraiform.Options) { opts.Logger = logger })
		if err != nil {
			return err
		}
		defer func() {
			if err := gs.Close(); err != nil {
				logger.Warn("Closing gateway connections failed", "error", err)
			}
		}()

		logger.Info("Gateway forwarding", "agent_server_url", cfg.Gateway.AgentServerURL)
		return server.ListenAndServe(ctx, cfg.Gateway.Addr(), gs.Handler(), cfg.Server.ShutdownTimeout, logger)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config)")
	gatewayCmd.Flags().String("agent-url", "", "Orchestrator WebSocket URL (overrides config)")
}
