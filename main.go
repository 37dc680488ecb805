// Command sdstudio generates images with Stable Diffusion XL pipelines.
//
//	sdstudio generate "a lighthouse at dusk" --mode refine
//	sdstudio serve
//	sdstudio styles
//	sdstudio history --limit 10
//	sdstudio check
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sdstudio/core"
	"sdstudio/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	var ee *core.ExitError
	if err != nil && !errors.As(err, &ee) {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "✗ %s\n", logging.RedactSecrets(err.Error()))
	}
	code := core.ExitCodeFor(err)
	if err != nil && ctx.Err() != nil && code == core.ExitCodeError {
		code = core.ExitCodeSIGINT
	}
	os.Exit(code)
}

// cli carries state prepared by the root command's PersistentPreRunE.
type cli struct {
	envFile string
	cfg     *core.Config
	log     *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "sdstudio",
		Short:         "Stable Diffusion XL generation studio",
		Version:       core.VersionInfo(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.bootstrap()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				c.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Environment file to load before reading configuration")

	root.AddCommand(
		newGenerateCmd(c),
		newServeCmd(c),
		newStylesCmd(c),
		newHistoryCmd(c),
		newCheckCmd(c),
	)
	return root
}

// bootstrap loads the environment file, configuration and logger. A missing
// HUGGINGFACE_TOKEN is fatal here for every command.
func (c *cli) bootstrap() error {
	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return c.fatal(core.ErrEnvFile(c.envFile, err))
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		return c.fatal(err)
	}
	log, err := logging.NewLogger(cfg.DevMode, cfg.LogFile)
	if err != nil {
		return c.fatal(fmt.Errorf("initialize logger: %w", err))
	}
	c.cfg, c.log = cfg, log
	return nil
}

// fatal prints err for the operator and returns it with exit code 1.
func (c *cli) fatal(err error) error {
	red := color.New(color.FgRed, color.Bold)
	if ce, ok := core.AsConfigError(err); ok {
		red.Fprintf(os.Stderr, "✗ %s\n", ce.Message)
		if ce.Action != "" {
			color.New(color.FgYellow).Fprintf(os.Stderr, "  → %s\n", ce.Action)
		}
	} else {
		red.Fprintf(os.Stderr, "✗ %s\n", logging.RedactSecrets(err.Error()))
	}
	return &core.ExitError{Code: core.ExitCodeError, Err: err}
}
