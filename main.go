package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "HUBBRIDGE_"

var rootCmd = &cobra.Command{
	Use:   "hubbridge",
	Short: "hubbridge talks to SmartThings and Hubitat hubs",
	Long: `hubbridge lists and controls the devices exposed by a SmartThings or Hubitat
SmartApp. Commands go to the hub on the LAN when a hub address is known and
local mode is on, and through the cloud endpoint otherwise.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyEnv(cmd.Flags())
	},
}

func main() {
	Execute()
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default: per-user config dir)")
	rootCmd.PersistentFlags().String("hub", "", "Hub profile to use, by id or name (default: active profile)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Timeout for one-shot hub calls (default 15s)")
}

// applyEnv fills every flag the user did not set from HUBBRIDGE_<FLAG_NAME>.
func applyEnv(flags *pflag.FlagSet) error {
	var firstErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || firstErr != nil {
			return
		}
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(name); ok {
			if err := flags.Set(f.Name, v); err != nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
		}
	})
	return firstErr
}
