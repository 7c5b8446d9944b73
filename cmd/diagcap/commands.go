package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/diagcap/dataset"
)

func newMetricsCmd(a *app) *cobra.Command {
	var (
		prefix string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "metrics FILE...",
		Short: "List the metric names recorded in capture files",
		Args:  requireFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.load(cmd.Context(), args, false)
			if err != nil {
				return err
			}

			names, err := ds.MetricNames()
			if err != nil {
				return err
			}

			if prefix != "" {
				filtered := names[:0]
				for _, name := range names {
					if strings.HasPrefix(name, prefix) {
						filtered = append(filtered, name)
					}
				}
				names = filtered
			}

			if asJSON {
				return printJSON(cmd, names)
			}

			for _, name := range names {
				cmd.Println(name)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "only list metrics starting with this prefix")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		names      []string
		start, end string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "query FILE...",
		Short: "Print metric samples over a time range",
		Long: `Prints one row per sample with the sample time followed by the value of each
requested metric. The range is half-open: samples at --end are excluded.

--start and --end accept "first", "last", milliseconds since the epoch or an
RFC 3339 time.`,
		Args: requireFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(names) == 0 {
				return errors.New("at least one --metric is required")
			}

			startTs, err := parseTimestamp(start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			endTs, err := parseTimestamp(end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			ds, err := a.load(cmd.Context(), args, false)
			if err != nil {
				return err
			}

			series, err := ds.Matrix(names, startTs, endTs)
			if err != nil {
				return err
			}
			timestamps, err := ds.Timestamps(startTs, endTs)
			if err != nil {
				return err
			}

			if asJSON {
				out := make(map[string][]int64, len(names)+1)
				out["timestamps"] = timestamps
				for i, name := range names {
					out[name] = series[i]
				}

				return printJSON(cmd, out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "time\t%s\n", strings.Join(names, "\t"))
			for row, ts := range timestamps {
				fmt.Fprint(tw, formatTimestamp(ts))
				for i := range names {
					fmt.Fprintf(tw, "\t%d", series[i][row])
				}
				fmt.Fprintln(tw)
			}

			return tw.Flush()
		},
	}

	cmd.Flags().StringSliceVarP(&names, "metric", "m", nil, "metric to print (repeatable)")
	cmd.Flags().StringVar(&start, "start", "first", "first sample time to include")
	cmd.Flags().StringVar(&end, "end", "last", "sample time to stop at (exclusive)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}

func newFilesCmd(a *app) *cobra.Command {
	var (
		metadataOnly bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "files FILE...",
		Short: "Summarize the time range and sample count of capture files",
		Args:  requireFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.load(cmd.Context(), args, metadataOnly)
			if err != nil {
				return err
			}

			files := ds.Files()
			if asJSON {
				return printJSON(cmd, fileSummaries(files))
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "path\tstart\tend\tsamples\tchunks")
			for _, f := range files {
				if f.Chunks == 0 {
					fmt.Fprintf(tw, "%s\t-\t-\t0\t0\n", f.Path)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", f.Path, formatTimestamp(f.Start), formatTimestamp(f.End), f.SampleCount, f.Chunks)
			}

			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&metadataOnly, "metadata-only", false, "read only the metadata record of each file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON, including metadata documents")

	return cmd
}

type fileSummary struct {
	Path        string `json:"path"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	SampleCount int    `json:"sampleCount"`
	Chunks      int    `json:"chunks"`
	Metadata    string `json:"metadata,omitempty"` // extended JSON
}

func fileSummaries(files []dataset.FileProvenance) []fileSummary {
	out := make([]fileSummary, len(files))
	for i, f := range files {
		out[i] = fileSummary{
			Path:        f.Path,
			Start:       f.Start,
			End:         f.End,
			SampleCount: f.SampleCount,
			Chunks:      f.Chunks,
		}
		if f.Metadata != nil {
			out[i].Metadata = f.Metadata.String()
		}
	}

	return out
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))

	return nil
}

func parseTimestamp(s string) (int64, error) {
	switch strings.ToLower(s) {
	case "first", "":
		return dataset.FirstTimestamp, nil
	case "last":
		return dataset.LastTimestamp, nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}

	return t.UnixMilli(), nil
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}
