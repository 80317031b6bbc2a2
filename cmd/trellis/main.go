// Command trellis is the ticket coordination daemon and its CLI.
//
// `trellis serve` runs the engine behind a unix socket; every other command
// is a thin client over that socket. Agents identify themselves with
// --agent (or TRELLIS_AGENT); the id is attached to every mutation for
// audit attribution.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgeline/trellis/internal/rpc"
	"github.com/forgeline/trellis/internal/telemetry"
	"github.com/forgeline/trellis/internal/ui"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	jsonOutput bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "trellis",
	Short:         "Dependency-aware ticket coordination for agent fleets",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		return telemetry.Init(rootCtx, "trellis", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func initConfig(cmd *cobra.Command) error {
	viper.SetConfigName("trellis")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if cfgDir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(cfgDir, "trellis"))
	}
	viper.SetEnvPrefix("TRELLIS")
	viper.AutomaticEnv()

	viper.SetDefault("socket", defaultSocketPath())
	viper.SetDefault("db", defaultDBPath())
	viper.SetDefault("workflow", "default")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Flags win over config file and env.
	for _, name := range []string{"socket", "agent", "workflow"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			viper.Set(name, f.Value.String())
		}
	}
	return nil
}

func defaultSocketPath() string {
	return filepath.Join(os.TempDir(), "trellis.sock")
}

func defaultDBPath() string {
	if cfgDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(cfgDir, "trellis", "trellis.db")
	}
	return "trellis.db"
}

// dialClient connects to the daemon with the configured identity.
func dialClient() (*rpc.Client, error) {
	agent := viper.GetString("agent")
	if agent == "" {
		return nil, fmt.Errorf("agent id required: pass --agent or set TRELLIS_AGENT")
	}
	client, err := rpc.Dial(viper.GetString("socket"), agent)
	if err != nil {
		return nil, fmt.Errorf("no daemon at %s (start one with `trellis serve`): %w", viper.GetString("socket"), err)
	}
	return client, nil
}

// emit prints v as JSON when --json is set, otherwise calls render.
func emit(v any, render func()) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	render()
	return nil
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().String("socket", defaultSocketPath(), "daemon socket path")
	rootCmd.PersistentFlags().String("agent", os.Getenv("TRELLIS_AGENT"), "calling agent id (attribution)")
	rootCmd.PersistentFlags().String("workflow", "default", "workflow id")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, ui.FailStyle.Render(ui.IconFail)+" "+err.Error())
		os.Exit(1)
	}
}
