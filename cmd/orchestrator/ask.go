package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	nraiform "github.com/bcgov/nr-ai-form"
	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Run a single query through the workflow and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sessionID, _ := cmd.Flags().GetString("session")
		step, _ := cmd.Flags().GetString("step")
		verbose, _ := cmd.Flags().GetBool("verbose")

		optFns := []func(*nraiform.Options){}
		if !verbose {
			optFns = append(optFns, func(o *nraiform.Options) { o.Logger = logging.NoOpLogger{} })
		}
		o, err := nraiform.New(cmd.Context(), cfg, optFns...)
		if err != nil {
			return err
		}
		defer o.Close()

		req := core.Request{Query: strings.Join(args, " "), SessionID: sessionID}
		if step != "" {
			req.Params = map[string]any{"step_number": step}
		}
		out, err := o.Run(cmd.Context(), req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"response": out.Result, "session_id": out.SessionID}); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringP("session", "s", "", "Session id to continue")
	askCmd.Flags().String("step", "", "Form step sent as step_number")
	askCmd.Flags().BoolP("verbose", "v", false, "Log workflow progress to stderr")
}
