package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/folio/internal/build"
	"github.com/conneroisu/folio/internal/config"
)

var buildDest string

var buildCmd = &cobra.Command{
	Use:     "build [source]",
	Aliases: []string{"b"},
	Short:   "Build the site once",
	Long: `Render every markdown page and copy every asset of the source directory
into the destination directory. Draft pages are skipped and no live reload
script is added.

Examples:
  folio build                     # Build . into ./public
  folio build ./site --dest dist  # Build ./site into ./dist`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildDest, "dest", "d", "public", "Output directory")
	buildCmd.Flags().StringSlice("ignore", nil, "Names or globs to skip")
}

func runBuild(cmd *cobra.Command, args []string) error {
	// serve binds the same key; the running command's flag wins.
	viper.BindPFlag("build.ignore", cmd.Flags().Lookup("ignore"))
	applySourceArg(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	builder := build.New(build.Options{
		SiteTitle: siteTitle(cfg.Build.Source),
		Ignore:    cfg.Build.Ignore,
		Logger:    newLogger(cmd, cfg),
	})

	if err := builder.Watch(commandContext(cmd), cfg.Build.Source, buildDest, false, nil); err != nil {
		return err
	}

	stats := builder.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d pages into %s in %s\n",
		color.GreenString("built"), stats.PagesRendered, buildDest, stats.TotalDuration.Round(time.Millisecond))
	return nil
}
