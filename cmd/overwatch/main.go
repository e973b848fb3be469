// ABOUTME: CLI entrypoint for overwatch: chat, search, events, serve, tui, and version commands.
// ABOUTME: Loads configuration once in the root command and hands each subcommand a wired backend client.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389-research/overwatch/client"
	"github.com/2389-research/overwatch/config"
	"github.com/2389-research/overwatch/markdown"
)

var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string, out, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(errOut, "error: %s\n", markdown.StripControl(err.Error()))
		return 1
	}
	return 0
}

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	backendURL string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{errOut: errOut}

	root := &cobra.Command{
		Use:           "overwatch",
		Short:         "Security-events dashboard client",
		Long:          "overwatch talks to the security-events backend: streamed chat, web search previews, and the event list.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/overwatch/config.yaml)")
	pf.StringVar(&a.backendURL, "backend", "", "backend base URL (overrides config)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn, or error (overrides config)")

	root.AddCommand(
		newChatCmd(a),
		newSearchCmd(a),
		newEventsCmd(a),
		newServeCmd(a),
		newTUICmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration, applies flag overrides, and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("backend") {
		cfg.BackendURL = a.backendURL
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
	return nil
}

// client builds a backend client from the loaded configuration.
func (a *app) client() *client.Client {
	// Validate has already rejected unknown policy names.
	policy, _ := client.RetryPolicyByName(a.cfg.Retry)
	return client.New(a.cfg.BackendURL,
		client.WithRequestTimeout(a.cfg.RequestTimeout),
		client.WithStreamTimeout(a.cfg.StreamTimeout),
		client.WithRetryPolicy(policy),
		client.WithLogger(a.logger),
	)
}

// htmlRenderer builds the renderer used by the relay.
func (a *app) htmlRenderer() *markdown.Renderer {
	opts := []markdown.Option{markdown.WithLogger(a.logger)}
	if a.cfg.RenderCacheTTL > 0 {
		opts = append(opts, markdown.WithCache(markdown.NewCache(a.cfg.RenderCacheTTL, 0)))
	}
	return markdown.NewRenderer(markdown.NewHTMLFormatter(), opts...)
}

// terminalRenderer builds the renderer used for ANSI output.
func (a *app) terminalRenderer() (*markdown.Renderer, error) {
	f, err := markdown.NewTerminalFormatter(a.cfg.TerminalStyle, a.cfg.TerminalWidth)
	if err != nil {
		return nil, err
	}
	return markdown.NewRenderer(f, markdown.WithLogger(a.logger)), nil
}
