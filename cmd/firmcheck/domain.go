package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rsclarke/firmcheck/internal/domaincheck"
)

var domainFlags struct {
	clientConfig
	json bool
}

var domainCmd = &cobra.Command{
	Use:   "domain <domain...>",
	Short: "Validate domains without consulting the oracle",
	Long: `Validate each domain's format, resolve it, and probe it over HTTPS and
HTTP. No company is involved and nothing is cached.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDomain,
}

func init() {
	rootCmd.AddCommand(domainCmd)

	addClientFlags(domainCmd, &domainFlags.clientConfig)
	domainCmd.Flags().BoolVar(&domainFlags.json, "json", false, "print results as JSON")
}

func runDomain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var results []domaincheck.Validation
	if domainFlags.remote() {
		resp, err := domainFlags.newClient().ValidateDomains(ctx, args)
		if err != nil {
			return err
		}
		results = resp.Results
	} else {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		v, err := newValidator(cfg)
		if err != nil {
			return err
		}
		results = make([]domaincheck.Validation, len(args))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Probe.Concurrency)
		for i, d := range args {
			g.Go(func() error {
				results[i] = v.Validate(gctx, d)
				return nil
			})
		}
		_ = g.Wait()
	}

	if domainFlags.json {
		return printJSON(cmd.OutOrStdout(), results)
	}
	printValidations(cmd.OutOrStdout(), results)
	return nil
}

func printValidations(w io.Writer, results []domaincheck.Validation) {
	fmt.Fprintf(w, "%-30s  %-6s  %-8s  %-9s  %-5s  %s\n", "DOMAIN", "FORMAT", "RESOLVES", "REACHABLE", "HTTPS", "STATUS")
	for _, v := range results {
		fmt.Fprintf(w, "%-30s  %-6t  %-8t  %-9t  %-5t  %s\n",
			v.Domain, v.IsValidFormat, v.DNSResolves, v.Reachable, v.HTTPSSupported, v.StatusMessage)
		if len(v.Addresses) > 0 {
			fmt.Fprintf(w, "%-30s  addresses: %s\n", "", strings.Join(v.Addresses, ", "))
		}
	}
}
