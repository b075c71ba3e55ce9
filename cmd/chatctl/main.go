package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands
type rootOptions struct {
	Server string
	Token  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Talk to a school-connect server from the terminal",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Token == "" {
				opts.Token = os.Getenv("CHATCTL_TOKEN")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("CHATCTL_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "access token (default $CHATCTL_TOKEN)")

	cmd.AddCommand(newTokenCommand())
	cmd.AddCommand(newContactsCommand(opts))
	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newTailCommand(opts))
	cmd.AddCommand(newFeedCommand(opts))
	cmd.AddCommand(newGradesCommand(opts))

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional; it usually carries JWT_SECRET for the token command
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("02 Jan 15:04")
}
