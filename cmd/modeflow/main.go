// Package main is the entry point for the modeflow CLI. modeflow routes each
// request to a fast, thorough or hybrid pipeline and runs it against a local
// model, with a result cache in front.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RichLycus/ProjekUtama-sub000/internal/config"
	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

var (
	version  = "0.1.0"
	cfgPath  string
	verbose  bool
	jsonOut  bool
	cfg      *config.Config
	logClose = func() error { return nil }
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "modeflow",
		Short: "modeflow - route requests to fast, thorough or hybrid pipelines",
		Long: `modeflow classifies each request, picks a processing mode and runs the
matching pipeline of handlers.

Inspect a routing decision:  modeflow classify "why does my goroutine leak"
Answer a question:           modeflow run "what is a goroutine"
Interactive session:         modeflow chat
Pipelines:                   modeflow pipelines list`,
		SilenceUsage:       true,
		PersistentPreRunE:  initConfig,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return logClose() },
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.modeflow/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of formatted output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("modeflow v%s\n", version)
		},
	})
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(pipelinesCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(handlersCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// initConfig loads configuration and installs the logger. Log output goes to
// the rotated file; --verbose adds debug output on stderr.
func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg := cfg.Logging.ToLogging()
	logCfg.Console = verbose
	if verbose {
		logCfg.Level = "debug"
		logCfg.ShowCaller = true
	}
	log, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	logClose = logging.Close

	log.Debug().Str("config", cfgPath).Str("cache", cfg.Cache.Backend).Msg("Session started")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
