package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/forgeline/trellis/internal/board"
	"github.com/forgeline/trellis/internal/storage/sqlite"
	"github.com/forgeline/trellis/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and a starter board config",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := viper.GetString("db")
		store, err := sqlite.New(rootCtx, dbPath)
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		defer func() { _ = store.Close() }()

		boardPath, _ := cmd.Flags().GetString("board")
		if boardPath == "" {
			boardPath = filepath.Join(filepath.Dir(store.Path()), "board.yaml")
		}
		if _, err := os.Stat(boardPath); os.IsNotExist(err) {
			data, err := yaml.Marshal(board.Default())
			if err != nil {
				return err
			}
			if err := os.WriteFile(boardPath, data, 0o644); err != nil {
				return fmt.Errorf("failed to write board config: %w", err)
			}
			fmt.Printf("%s wrote starter board config to %s\n", ui.PassStyle.Render(ui.IconPass), boardPath)
		} else {
			fmt.Printf("%s board config already exists at %s\n", ui.MutedStyle.Render(ui.IconInfo), boardPath)
		}

		fmt.Printf("%s database ready at %s\n", ui.PassStyle.Render(ui.IconPass), store.Path())
		return nil
	},
}

func init() {
	initCmd.Flags().String("board", "", "where to write the starter board config")
	rootCmd.AddCommand(initCmd)
}
