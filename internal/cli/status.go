package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/upd8r/upd8r/internal/config"
	"github.com/upd8r/upd8r/internal/watermark"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved watermark of every media",
	RunE:  statusAction,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statusCmd)
}

type mediaWatermark struct {
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Source    string     `json:"source"`
	Watermark uint64     `json:"watermark"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func statusAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	backend, err := openBackend(cfg, configDir)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	records, err := backend.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list watermarks: %w", err)
	}
	rows := joinWatermarks(cfg, records)

	switch statusFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "terminal", "":
		printWatermarks(cmd.OutOrStdout(), rows, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statusFormat)
	}
}

// joinWatermarks lists configured media in config order with their saved
// watermark. Records for media no longer configured are ignored.
func joinWatermarks(cfg *config.Config, records []watermark.Record) []mediaWatermark {
	byKey := make(map[string]watermark.Record, len(records))
	for _, r := range records {
		byKey[r.Key] = r
	}
	rows := make([]mediaWatermark, 0, len(cfg.Media))
	for _, mc := range cfg.Media {
		row := mediaWatermark{Key: mc.Key, Name: mc.Name, Source: mc.Source}
		if r, ok := byKey[mc.Key]; ok {
			row.Watermark = r.Value
			at := r.UpdatedAt
			row.UpdatedAt = &at
		}
		rows = append(rows, row)
	}
	return rows
}

func printWatermarks(w io.Writer, rows []mediaWatermark, now time.Time) {
	keyWidth := 5 // "Media"
	for _, r := range rows {
		keyWidth = max(keyWidth, len(r.Key))
	}

	fmt.Fprintf(w, "%-*s  %-13s  %20s  %s\n", keyWidth, "Media", "Source", "Watermark", "Updated")
	for _, r := range rows {
		updated := "never"
		if r.UpdatedAt != nil {
			updated = humanize.RelTime(*r.UpdatedAt, now, "ago", "from now")
		}
		fmt.Fprintf(w, "%-*s  %-13s  %20d  %s\n", keyWidth, r.Key, r.Source, r.Watermark, updated)
	}
}
