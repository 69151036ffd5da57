package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vango-dev/acceptd/internal/config"
	"github.com/vango-dev/acceptd/internal/errors"
)

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a default acceptd.json",
		Long: `Write acceptd.json with every setting at its default value.

Examples:
  acceptd init
  acceptd init /etc/acceptd --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path, err := writeDefaultConfig(dir, force)
			if err != nil {
				return err
			}
			success("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing acceptd.json")

	return cmd
}

func writeDefaultConfig(dir string, force bool) (string, error) {
	if config.Exists(dir) && !force {
		return "", errors.New("E140").
			WithDetail("An acceptd.json file already exists in " + dir).
			WithSuggestion("Use --force to overwrite it")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.New("E120").Wrap(err)
	}

	path := filepath.Join(dir, config.ConfigFileName)
	if err := config.New().SaveTo(path); err != nil {
		return "", err
	}
	return path, nil
}
