package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rsclarke/firmcheck/internal/api"
	"github.com/rsclarke/firmcheck/internal/existence"
)

var checkFlags struct {
	clientConfig
	json    bool
	refresh bool
}

var checkCmd = &cobra.Command{
	Use:   "check <company> [domain...]",
	Short: "Check whether a company exists",
	Long: `Check whether a company exists, using any given domains as corroborating
evidence. Each domain is validated and, when reachable, judged for whether it
belongs to the company. The verdict is cached; --refresh drops the cached
report first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	addClientFlags(checkCmd, &checkFlags.clientConfig)
	checkCmd.Flags().BoolVar(&checkFlags.json, "json", false, "print the full report as JSON")
	checkCmd.Flags().BoolVar(&checkFlags.refresh, "refresh", false, "ignore any cached report")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	company, domains := args[0], args[1:]

	var report *existence.Report
	if checkFlags.remote() {
		var err error
		report, err = checkFlags.newClient().Check(ctx, api.CheckRequest{
			CompanyName: company,
			Domains:     domains,
			Refresh:     checkFlags.refresh,
		})
		if err != nil {
			return err
		}
	} else {
		e, err := newEngine(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		if checkFlags.refresh {
			if _, err := e.orchestrator.Forget(ctx, company, domains...); err != nil {
				return err
			}
		}
		report, err = e.orchestrator.Check(ctx, company, domains...)
		if err != nil {
			return err
		}
	}

	if checkFlags.json {
		return printJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, r *existence.Report) {
	fmt.Fprintf(w, "Company:     %s\n", r.CompanyName)
	fmt.Fprintf(w, "Exists:      %s (confidence: %s)\n", r.Exists, r.Confidence)

	op := r.OracleOpinion
	oracleLine := op.Exists
	if op.Reason != "" {
		oracleLine += " - " + op.Reason
	}
	if op.Industry != nil {
		oracleLine += " [" + *op.Industry + "]"
	}
	if op.Error != "" {
		oracleLine += " (error: " + op.Error + ")"
	}
	fmt.Fprintf(w, "Oracle:      %s\n", oracleLine)
	if r.ServedFrom != "" {
		fmt.Fprintf(w, "Served from: %s (checked %s)\n", r.ServedFrom, r.CheckedAt.Local().Format("2006-01-02 15:04:05"))
	}

	if len(r.DomainOrder) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-30s  %-9s  %-12s  %s\n", "DOMAIN", "REACHABLE", "RELATION", "STATUS")
	for _, d := range r.DomainOrder {
		res, ok := r.Domains[d]
		if !ok {
			continue
		}
		relation := "-"
		if res.Relevance != nil {
			relation = string(res.Relevance.RelationshipType)
		}
		fmt.Fprintf(w, "%-30s  %-9t  %-12s  %s\n", d, res.Validation.Reachable, relation, res.Validation.StatusMessage)
	}

	for _, d := range r.UnrelatedDomains {
		if rel := r.Domains[d].Relevance; rel != nil {
			fmt.Fprintf(w, "\nWarning: %s does not appear to belong to %s (risk: %s)\n", d, r.CompanyName, rel.RiskLevel)
			if rel.Remediation != "" {
				fmt.Fprintf(w, "  %s\n", strings.TrimSpace(rel.Remediation))
			}
		}
	}
}
