package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/folio/internal/build"
	"github.com/conneroisu/folio/internal/config"
	"github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/monitoring"
	"github.com/conneroisu/folio/internal/server"
)

var serveFlags ServeFlags

var serveCmd = &cobra.Command{
	Use:     "serve [source]",
	Aliases: []string{"s"},
	Short:   "Serve the site with live reload",
	Long: `Build the site into a temporary directory, serve it and rebuild on every
change. Connected browsers reload after each rebuild.

When the port is taken folio asks for another one. Use --port-strategy
increment to pick the next free port automatically or fail to give up.

Examples:
  folio serve                        # Serve the current directory
  folio serve ./site -p 8080 --open  # Serve ./site on port 8080
  folio serve --port-strategy fail   # Exit if the port is taken`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addServeFlags(serveCmd, &serveFlags)

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.open", serveCmd.Flags().Lookup("open"))
	viper.BindPFlag("server.port_strategy", serveCmd.Flags().Lookup("port-strategy"))
	viper.BindPFlag("server.metrics_addr", serveCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("build.debounce", serveCmd.Flags().Lookup("debounce"))
}

func runServe(cmd *cobra.Command, args []string) error {
	viper.BindPFlag("build.ignore", cmd.Flags().Lookup("ignore"))
	applySourceArg(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	policy, err := portPolicyFor(cmd, cfg.Server.PortStrategy)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	metrics := monitoring.NewMetrics()

	builder := build.New(build.Options{
		SiteTitle:  siteTitle(cfg.Build.Source),
		LiveReload: true,
		Debounce:   cfg.Build.Debounce,
		Ignore:     cfg.Build.Ignore,
		Logger:     logger,
		Metrics:    metrics,
	})

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	srv := server.New(server.OptionsFromConfig(cfg), builder,
		server.WithPortPolicy(policy),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithOnListen(func(url string) { printBanner(out, url, cfg) }),
	)

	err = srv.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	if errors.IsBindError(err) {
		fmt.Fprint(cmd.ErrOrStderr(), bindHints(err, cfg.Server.Port))
	}
	return err
}

// bindHints formats suggestions for the port that failed, which differs
// from the configured one after a conflict was resolved.
func bindHints(err error, configured int) string {
	port := configured
	if failed, ok := errors.BindPort(err); ok {
		port = failed
	}
	return errors.FormatSuggestions(errors.BindSuggestions(err, port))
}

// portPolicyFor maps a configured strategy to the server's port policy.
func portPolicyFor(cmd *cobra.Command, strategy string) (server.PortPolicy, error) {
	switch strategy {
	case config.PortStrategyPrompt:
		return newPromptPolicy(cmd.InOrStdin(), cmd.OutOrStdout()), nil
	case config.PortStrategyIncrement:
		return server.IncrementPort, nil
	case config.PortStrategyFail:
		return server.FailFast, nil
	default:
		return nil, errors.NewConfigError("UNKNOWN_PORT_STRATEGY", fmt.Sprintf("unknown port strategy %q", strategy))
	}
}

func siteTitle(source string) string {
	abs, err := filepath.Abs(source)
	if err != nil {
		return "folio"
	}
	return filepath.Base(abs)
}

func printBanner(w io.Writer, url string, cfg *config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	title.Fprintln(w, "folio")
	fmt.Fprintf(w, "serving %s from %s\n", cfg.Build.Source, cfg.OutputDir())
	fmt.Fprintf(w, "listening on %s\n", color.GreenString(url))
	if cfg.Server.MetricsAddr != "" {
		fmt.Fprintf(w, "metrics on %s\n", color.YellowString("http://"+cfg.Server.MetricsAddr+"/metrics"))
	}
}
