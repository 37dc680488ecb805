package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"sdstudio/db"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		limit int
		style string
		stats bool
		prune time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.DBPath == "" {
				return usageError(fmt.Errorf("run history is disabled; set SDSTUDIO_DB_PATH"))
			}
			d, err := db.Open(c.cfg.DBPath)
			if err != nil {
				return c.fatal(err)
			}
			defer d.Close()
			repo := db.NewRepository(d, false, c.log.Named("history"))
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if prune > 0 {
				n, err := d.Prune(ctx, prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d runs older than %s\n", n, prune)
				return nil
			}
			if stats {
				rows, err := repo.Stats(ctx)
				if err != nil {
					return err
				}
				writeStatsTable(out, rows)
				return nil
			}
			gens, err := repo.Recent(ctx, limit, style)
			if err != nil {
				return err
			}
			writeHistoryTable(out, gens)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVar(&style, "style", "", "Only show runs of this style")
	cmd.Flags().BoolVar(&stats, "stats", false, "Show per-style totals instead")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete runs older than this (e.g. 720h) and exit")
	return cmd
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func writeHistoryTable(w io.Writer, gens []db.Generation) {
	table := newTable(w, []string{"STARTED", "STYLE", "MODE", "SEED", "STEPS", "SIZE", "TIME", "STATUS", "PROMPT"})
	for _, g := range gens {
		table.Append([]string{
			g.StartedAt.Local().Format("2006-01-02 15:04"),
			g.Style,
			g.Mode,
			strconv.FormatInt(g.Seed, 10),
			strconv.Itoa(g.Steps),
			fmt.Sprintf("%dx%d", g.Width, g.Height),
			(time.Duration(g.DurationMS) * time.Millisecond).Round(100 * time.Millisecond).String(),
			g.Status,
			truncate(g.Prompt, 48),
		})
	}
	table.Render()
}

func writeStatsTable(w io.Writer, rows []db.StyleStats) {
	table := newTable(w, []string{"STYLE", "RUNS", "OK", "FAILED", "CANCELLED", "AVG"})
	for _, r := range rows {
		table.Append([]string{
			r.Style,
			strconv.Itoa(r.Runs),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Cancelled),
			(time.Duration(r.AvgMS) * time.Millisecond).Round(100 * time.Millisecond).String(),
		})
	}
	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
