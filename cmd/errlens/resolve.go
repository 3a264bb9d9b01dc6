package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/errlens/internal/sourcemap"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <script-url> <line> [column]",
	Short: "Map a generated script position to its original source",
	Long: `Fetch the source map for a script and map a generated position to the
original source. Lines and columns are 1-based, as in browser stack traces.

Example:
  errlens resolve http://localhost:3000/static/app.js 10 3`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().Duration("timeout", 3*time.Second, "Timeout for each fetch")
	resolveCmd.Flags().Int("retries", 2, "Retries after a failed fetch")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		return fmt.Errorf("invalid line %q", args[1])
	}
	column := 1
	if len(args) == 3 {
		column, err = strconv.Atoi(args[2])
		if err != nil || column < 1 {
			return fmt.Errorf("invalid column %q", args[2])
		}
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	retries, _ := cmd.Flags().GetInt("retries")
	r := sourcemap.NewResolver(sourcemap.Config{Timeout: timeout, Retries: retries, AllowFiles: true})

	loc := r.Resolve(context.Background(), args[0], line, column)
	if loc == nil {
		return fmt.Errorf("no source map covers %s:%d:%d", args[0], line, column)
	}
	fmt.Println(loc.String())
	return nil
}
