// catalogpub publishes product catalogs from a shared folder to a local
// mirror, a cloud drive folder and the website FTP server.
//
// Usage:
//
//	catalogpub serve [--config catalogpub.toml] [--env-file .env]
//	catalogpub run
//	catalogpub check
//	catalogpub --once
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	envFile    string
	verbose    bool
	once       bool
)

var rootCmd = &cobra.Command{
	Use:   "catalogpub",
	Short: "Publish product catalogs to the local mirror, Drive and FTP",
	Long: `catalogpub scans the catalog folder, resolves each file's published name
and uploads it to every destination. Files are removed from the folder only
after all destinations succeeded in the same run.

Without a subcommand it runs on schedule (same as "serve"); --once runs a
single pass and exits (same as "run").`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if once {
			return runOnce(cmd, args)
		}
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "catalogpub.toml", "Path to TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to dotenv file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&once, "once", false, "Run a single publication pass and exit")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
