// Binary seleniumpool leases Selenium endpoints, checks remote ends, runs
// forwarding proxies and fetches local drivers.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/wanmail/seleniumpool/config"
)

var configPath string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "seleniumpool",
		Short:        "Pool remote WebDriver endpoints for concurrent GUI tests",
		SilenceUsage: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			glog.Flush()
		},
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration. Defaults apply when empty.")

	root.AddCommand(acquireCmd(), statusCmd(), proxyCmd(), fetchDriversCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		glog.Flush()
		os.Exit(1)
	}
}
