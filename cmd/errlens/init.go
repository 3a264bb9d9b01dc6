package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/errlens/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a default " + config.FileName,
	Long: `Write a documented default configuration file to the given directory, or
the working directory. An existing file is left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	path := filepath.Join(dir, config.FileName)
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
