package main

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/wanmail/seleniumpool/executor"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [url...]",
		Short: "Report the status of remote ends, by default those in the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := args
			if len(urls) == 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				urls = cfg.URLs()
			}

			var failed int
			out := cmd.OutOrStdout()
			for _, u := range urls {
				e, err := executor.New(u)
				if err != nil {
					return err
				}
				st, err := e.Status(cmd.Context())
				if err != nil {
					glog.Errorf("status of %s: %v", u, err)
					fmt.Fprintf(out, "%s\tDOWN\t%v\n", u, err)
					failed++
					continue
				}
				version := st.Build.Version
				if v, err := st.Version(); err == nil {
					version = v.String()
				}
				fmt.Fprintf(out, "%s\tUP\tversion=%s ready=%t os=%s\n", u, version, st.Ready, st.OS.Name)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d remote ends are down", failed, len(urls))
			}
			return nil
		},
	}
}
