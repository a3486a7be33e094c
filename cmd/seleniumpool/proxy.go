package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/wanmail/seleniumpool/config"
	"github.com/wanmail/seleniumpool/proxy"
)

func proxyCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the configured forwarding proxies until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.ProxyEnabled() {
				return fmt.Errorf("no proxy configured; set proxy.target")
			}
			target, err := proxy.ParseTarget(cfg.Proxy.Target)
			if err != nil {
				return err
			}

			var factory proxy.Factory
			if cfg.Proxy.Kind == config.SOCKS5Proxy {
				var users map[string]string
				if cfg.Proxy.User != "" {
					users = map[string]string{cfg.Proxy.User: cfg.Proxy.Password}
				}
				factory = proxy.SOCKSFactory(users)
			} else {
				var opts []proxy.HTTPOption
				if cfg.Proxy.User != "" {
					opts = append(opts, proxy.Credentials(cfg.Proxy.User, cfg.Proxy.Password))
				}
				factory = proxy.HTTPFactory(opts...)
			}

			pool := proxy.NewPool(target, cfg.Proxy.PortMin, factory)
			defer pool.Close()
			for i := 0; i < count; i++ {
				inst, err := pool.Acquire()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s proxy on localhost:%d -> %s\n", cfg.Proxy.Kind, inst.Port(), target)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case s := <-sig:
				glog.Infof("received %v, shutting down", s)
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "Number of proxies to start.")
	return cmd
}
