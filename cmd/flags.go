package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/folio/internal/config"
)

// ServeFlags holds the flags of the serve command.
type ServeFlags struct {
	Port         int
	Host         string
	Open         bool
	PortStrategy string
	MetricsAddr  string
	Debounce     time.Duration
	Ignore       []string
}

func addServeFlags(cmd *cobra.Command, flags *ServeFlags) {
	cmd.Flags().IntVarP(&flags.Port, "port", "p", config.DefaultPort, "Port to serve on (0 picks a free port)")
	cmd.Flags().StringVar(&flags.Host, "host", config.DefaultHost, "Host to bind to")
	cmd.Flags().BoolVarP(&flags.Open, "open", "o", false, "Open the browser after the first build")
	cmd.Flags().StringVar(&flags.PortStrategy, "port-strategy", config.DefaultPortStrategy, "What to do when the port is taken (prompt, increment, fail)")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	cmd.Flags().DurationVar(&flags.Debounce, "debounce", config.DefaultDebounce, "Delay used to batch file changes")
	cmd.Flags().StringSliceVar(&flags.Ignore, "ignore", nil, "Names or globs to skip while building and watching")

	AddFlagValidation(cmd, "port", ValidatePort)
	AddFlagValidation(cmd, "port-strategy", ValidatePortStrategy)
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 (any free port) through 65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

// ValidatePortStrategy accepts the known port conflict strategies.
func ValidatePortStrategy(strategy string) error {
	switch strategy {
	case config.PortStrategyPrompt, config.PortStrategyIncrement, config.PortStrategyFail:
		return nil
	default:
		return fmt.Errorf("unknown port strategy %q (prompt, increment, fail)", strategy)
	}
}
