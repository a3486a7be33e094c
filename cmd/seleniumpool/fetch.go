package main

import (
	"fmt"

	"github.com/google/go-github/v27/github"
	"github.com/spf13/cobra"

	"github.com/wanmail/seleniumpool/config"
	"github.com/wanmail/seleniumpool/internal/download"
)

func fetchDriversCmd() *cobra.Command {
	var (
		dir         string
		chromeBuild string
		kinds       []string
	)
	cmd := &cobra.Command{
		Use:   "fetch-drivers",
		Short: "Download the driver binaries used by the local pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var files []download.File
			for _, kind := range kinds {
				switch kind {
				case config.ChromeDriver:
					client, err := download.NewStorageClient(ctx)
					if err != nil {
						return err
					}
					f, err := download.ChromeDriverSnapshot(ctx, client, chromeBuild)
					client.Close()
					if err != nil {
						return err
					}
					files = append(files, f)
				case config.GeckoDriver:
					f, err := download.GeckoDriver(ctx, github.NewClient(nil))
					if err != nil {
						return err
					}
					files = append(files, f)
				case config.SeleniumServer:
					files = append(files, download.SeleniumFile)
				default:
					return fmt.Errorf("unknown driver kind %q", kind)
				}
			}
			d := &download.Downloader{Dir: dir}
			return d.FetchAll(ctx, files)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "vendor", "Directory to store the drivers in.")
	cmd.Flags().StringVar(&chromeBuild, "chrome-build", "", "Chromium snapshot build; empty means the latest.")
	cmd.Flags().StringSliceVar(&kinds, "kind", []string{config.ChromeDriver}, "Drivers to fetch: chromedriver, geckodriver, selenium.")
	return cmd
}
