package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the response cache (admin)",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().ClearCache(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("cache cleared"))
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit rate and size",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient().CacheStats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "size           %d / %d\n", s.Size, s.MaxSize)
		fmt.Fprintf(out, "ttl            %.0fs\n", s.TTLSeconds)
		fmt.Fprintf(out, "hits           %d\n", s.Hits)
		fmt.Fprintf(out, "misses         %d\n", s.Misses)
		fmt.Fprintf(out, "hit rate       %.1f%%\n", s.HitRate*100)
		fmt.Fprintf(out, "evictions      %d\n", s.Evictions)
		fmt.Fprintf(out, "invalidations  %d\n", s.Invalidations)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd, cacheStatsCmd)
}
