package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgeline/trellis/internal/board"
	"github.com/forgeline/trellis/internal/clarify"
	"github.com/forgeline/trellis/internal/engine"
	"github.com/forgeline/trellis/internal/rpc"
	"github.com/forgeline/trellis/internal/search"
	"github.com/forgeline/trellis/internal/storage/sqlite"
	"github.com/forgeline/trellis/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ticket engine daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := viper.GetString("db")
		store, err := sqlite.New(rootCtx, dbPath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() { _ = store.Close() }()

		cfg := board.Default()
		if boardPath := viper.GetString("board"); boardPath != "" {
			cfg, err = board.Load(boardPath)
			if err != nil {
				return err
			}
		}

		searcher := search.New(store, nil)
		opts := []engine.Option{}
		if key := viper.GetString("anthropic_api_key"); key != "" || os.Getenv("ANTHROPIC_API_KEY") != "" {
			arb, err := clarify.NewAnthropicArbitrator(key, viper.GetString("model"))
			if err != nil {
				return err
			}
			opts = append(opts, engine.WithClarifier(clarify.NewService(store, arb)))
		}
		eng := engine.New(store, cfg, searcher, opts...)

		server := rpc.NewServer(eng, viper.GetString("socket"))
		if err := server.Start(); err != nil {
			return err
		}
		fmt.Printf("%s trellis daemon listening on %s (db: %s)\n",
			ui.PassStyle.Render(ui.IconPass), server.SocketPath(), store.Path())

		select {
		case <-rootCtx.Done():
		case <-server.ShutdownRequested():
		}
		fmt.Println(ui.MutedStyle.Render("shutting down"))
		return server.Stop()
	},
}

func init() {
	serveCmd.Flags().String("db", "", "database path (default from config)")
	serveCmd.Flags().String("board", "", "board config YAML (default: stock board)")
	serveCmd.Flags().String("model", "", "arbitration model override")
	_ = viper.BindPFlag("board", serveCmd.Flags().Lookup("board"))
	_ = viper.BindPFlag("model", serveCmd.Flags().Lookup("model"))

	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if f := cmd.Flags().Lookup("db"); f.Changed {
			viper.Set("db", f.Value.String())
		}
		return nil
	}

	rootCmd.AddCommand(serveCmd)
}
