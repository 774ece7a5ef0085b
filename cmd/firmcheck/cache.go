package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheFlags struct {
	clientConfig
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached results",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [namespace]",
	Short: "Clear cached results",
	Long:  `Clear every cached result, or only those in the given namespace (for example existence_check).`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	addClientFlags(cacheClearCmd, &cacheFlags.clientConfig)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var namespace string
	if len(args) == 1 {
		namespace = args[0]
	}

	var n int
	if cacheFlags.remote() {
		resp, err := cacheFlags.newClient().ClearCache(ctx, namespace)
		if err != nil {
			return err
		}
		n = resp.Cleared
	} else {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		e := newResources()
		defer e.Close()
		c, err := e.openCache(ctx, cfg, nil)
		if err != nil {
			return err
		}
		if namespace == "" {
			n = c.ClearAll(ctx)
		} else {
			n = c.Clear(ctx, namespace)
		}
	}

	if namespace == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached entries.\n", n)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached entries from %s.\n", n, namespace)
	}
	return nil
}
