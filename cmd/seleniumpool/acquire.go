package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wanmail/seleniumpool"
)

func acquireCmd() *cobra.Command {
	var pageURL, xpath string
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Open a browser session, optionally load a page and evaluate an XPath expression, then close it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := seleniumpool.NewManager(cfg)
			if err != nil {
				return err
			}
			defer m.Shutdown()

			ctx := cmd.Context()
			s, err := m.Open(ctx)
			if err != nil {
				return err
			}
			defer m.Close(ctx, s)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lease:    %s\n", s.ID)
			fmt.Fprintf(out, "endpoint: %s\n", s.Endpoint)
			fmt.Fprintf(out, "session:  %s\n", s.SessionID())
			if s.Proxy != nil {
				fmt.Fprintf(out, "proxy:    localhost:%d -> %s\n", s.Proxy.Port(), s.Proxy.Target())
			}

			if pageURL == "" {
				return nil
			}
			if _, err := s.Execute(ctx, "get", map[string]interface{}{"url": pageURL}); err != nil {
				return err
			}
			if xpath == "" {
				return nil
			}
			v, err := s.EvalXPathString(ctx, xpath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "xpath:    %s\n", v)
			return nil
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "", "Page to load in the session.")
	cmd.Flags().StringVar(&xpath, "xpath", "", "XPath expression to evaluate against the loaded page.")
	return cmd
}
