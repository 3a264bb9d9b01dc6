// Command errlens proxies a web app, captures its errors and highlights the
// elements they came from.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/errlens/internal/debug"
)

const appName = "errlens"

// Version is set at build time.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Attribute browser errors to the page elements that caused them",
	Long: `errlens runs a reverse proxy in front of a web app. Pages loaded through it
report runtime errors, rejected promises and console errors back to errlens,
which remaps their stack traces through source maps, works out which elements
were involved and outlines them in the page.

Examples:
  errlens serve --target http://localhost:3000
  errlens mcp --target http://localhost:5173
  errlens errors --addr 127.0.0.1:8900
  errlens resolve http://localhost:3000/static/app.js 10 3`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if only, _ := cmd.Flags().GetStringSlice("debug-only"); len(only) > 0 {
			debug.Enable(only...)
		} else if on, _ := cmd.Flags().GetBool("debug"); on {
			debug.Enable()
		}
		if name, _ := cmd.Flags().GetString("log-file"); name != "" {
			if err := debug.SetLogFile(name); err != nil {
				return err
			}
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s v%s\n", appName, Version)
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (same as "+debug.EnvVar+"=1)")
	rootCmd.PersistentFlags().StringSlice("debug-only", nil, "Enable debug logging for these components only (e.g. sourcemap,proxy)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file under "+debug.LogDir())
	rootCmd.AddCommand(versionCmd)
}

func main() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
