package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recall0/recall/internal/app"
	"github.com/recall0/recall/internal/config"
	"github.com/recall0/recall/internal/race"
)

var (
	askUser     string
	askTimezone string
	askDataType string
	askActivity string
	askCircle   string
	askSources  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-shot question over your records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", "", "user ID to query as (required)")
	askCmd.Flags().StringVar(&askTimezone, "timezone", "", "IANA timezone for date phrases, overrides config")
	askCmd.Flags().StringVar(&askDataType, "type", "", "restrict retrieval to one record type")
	askCmd.Flags().StringVar(&askActivity, "activity", "", "bias retrieval toward one activity")
	askCmd.Flags().StringVar(&askCircle, "circle", "", "query a circle's shared records instead of your own")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "print the records the answer was grounded in")
	_ = askCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if askDataType != "" && askActivity != "" {
		return errors.New("--type and --activity are mutually exclusive")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	question := strings.TrimSpace(strings.Join(args, " "))
	req := race.Request{UserID: askUser, Query: question, Timezone: askTimezone}

	var answer *race.Answer
	switch {
	case askCircle != "":
		answer, err = a.Engine.QueryCircleContext(ctx, race.CircleRequest{
			CircleID: askCircle,
			CallerID: askUser,
			Query:    question,
			Timezone: askTimezone,
		})
	case askDataType != "":
		answer, err = a.Engine.QueryByDataType(ctx, req, askDataType)
	case askActivity != "":
		answer, err = a.Engine.QueryByActivity(ctx, req, askActivity)
	default:
		answer, err = a.Engine.Query(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), answer.Response)

	if askSources && len(answer.ContextUsed) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Sources:")
		for _, ref := range answer.ContextUsed {
			fmt.Fprintf(cmd.OutOrStdout(), "  [%.2f] %s %s\n", ref.Score, ref.Type, ref.Snippet)
		}
	}

	return nil
}
