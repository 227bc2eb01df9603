package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/upd8r/upd8r/internal/config"
	"github.com/upd8r/upd8r/internal/engine"
	"github.com/upd8r/upd8r/internal/sink"
	"github.com/upd8r/upd8r/internal/update"
	"github.com/upd8r/upd8r/internal/watermark"
)

var checkCommit bool

var checkCmd = &cobra.Command{
	Use:   "check [media...]",
	Short: "Check media once and print what would be announced",
	Long: `Fetches each media once and prints the message for any update newer than
its watermark. Watermarks are left untouched unless --commit is given, which
marks the printed updates as seen without announcing them anywhere.`,
	RunE: checkAction,
}

func init() {
	checkCmd.Flags().BoolVar(&checkCommit, "commit", false, "advance and save watermarks for reported updates")
	rootCmd.AddCommand(checkCmd)
}

func checkAction(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cmd.ErrOrStderr(), cfg)
	ctx := cmd.Context()

	media, err := selectMedia(cfg, args)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	backend, err := openBackend(cfg, configDir)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	if !checkCommit {
		backend = watermark.ReadOnly(backend)
	}
	marks, err := newWatermarks(cfg, backend, log)
	if err != nil {
		return err
	}
	detector, err := engine.NewDetector(reg, marks)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	console := sink.NewConsole(out)
	failed := 0
	for _, m := range media {
		upd, err := detector.Check(ctx, m)
		if upd != nil {
			if derr := console.Deliver(ctx, upd.Message()); derr != nil {
				return derr
			}
		}
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(out, "[FAIL] %s: %v\n", m.Key, err)
		case upd == nil:
			fmt.Fprintf(out, "[ OK ] %s: nothing new (watermark %d)\n", m.Key, marks.Peek(ctx, m))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d media failed", failed, len(media))
	}
	return nil
}

// selectMedia returns the configured media named by keys, or all of them.
func selectMedia(cfg *config.Config, keys []string) ([]update.Media, error) {
	all := cfg.MediaList()
	if len(keys) == 0 {
		return all, nil
	}
	var out []update.Media
	var unknown []string
	for _, k := range keys {
		i := slices.IndexFunc(all, func(m update.Media) bool { return m.Key == k })
		if i < 0 {
			unknown = append(unknown, k)
			continue
		}
		out = append(out, all[i])
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown media: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}
