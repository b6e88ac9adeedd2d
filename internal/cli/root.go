// Package cli holds the volunteerctl commands.
package cli

import (
	"context"
	"os"
	"time"

	"github.com/jrsteele09/volunteer-gateway/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the volunteerctl command tree.
func NewRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "volunteerctl",
		Short: "Client tools for the volunteer gateway",
		Long: `volunteerctl signs in to the volunteer gateway's identity provider from a terminal
and keeps the session alive, and evaluates the role policy for a role and path.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configureLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default from LOG_LEVEL)")

	root.AddCommand(newPolicyCmd(), newSessionCmd())
	return root
}

// ExecuteContext runs volunteerctl with ctx, which is cancelled on interrupt.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func configureLogging(level string) {
	if level == "" {
		level = config.New().GetLogLevel()
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}
