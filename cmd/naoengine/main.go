// Command naoengine runs the NAO hardware interface and its development
// tools: the engine itself, a simulated driver, and clients for a running
// engine's HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fenghuanghao1986/NAO-engine/internal/config"
	"github.com/fenghuanghao1986/NAO-engine/internal/log"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	EnvFiles []string
	LogLevel string
	Addr     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "naoengine",
		Short:         "NAO hardware interface",
		Long:          "Runs the NAO control cycle against a shared-memory driver segment and serves it over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "dotenv files to load (default .env)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides NAO_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "http://localhost:8080", "engine base URL for client commands")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newDriverCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newCommandsCommand(opts))
	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newRandomCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newReconfigureCommand(opts))
	cmd.AddCommand(newSanityCommand(opts))

	return cmd
}

// setup loads the environment and initializes logging.
func (o *rootOptions) setup() (config.Env, error) {
	e, err := config.LoadEnv(o.EnvFiles...)
	if err != nil {
		return config.Env{}, err
	}
	if o.LogLevel != "" {
		e.LogLevel = o.LogLevel
	}
	log.Init(e.LogLevel)
	return e, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// reloadOnHangup calls reload on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, reload func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				reload()
			case <-ctx.Done():
				return
			}
		}
	}()
}
