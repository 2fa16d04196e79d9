// Command mcf tracks Muskoka cottage listings across broker websites.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/muskokacottagefinder/mcf/internal/config"
	"github.com/muskokacottagefinder/mcf/internal/storage"
)

// Exit codes
const (
	exitOK         = 0
	exitFailure    = 1
	exitContention = 2
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mcf",
	Short: "Muskoka Cottage Finder: track cottage listings across broker sites",
	Long: `mcf scrapes broker and blog pages, resolves the records it finds into
durable listings, and reports what is new, changed, exclusive or gone.

Configuration comes from mcf.yaml (or --config / MCF_CONFIG), then .env,
then MCF_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		loaded, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default mcf.yaml, or MCF_CONFIG)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, storage.ErrRunInProgress):
		return exitContention
	default:
		return exitFailure
	}
}
