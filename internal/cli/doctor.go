package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/upd8r/upd8r/internal/config"
	"github.com/upd8r/upd8r/internal/sink"
)

var doctorOffline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, watermark storage, and sink credentials",
	RunE:  doctorAction,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip checks that need the network")
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ctx := cmd.Context()
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(w, false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(w, true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(w, false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(w, true, "config.yaml (%d media, poll every %s)", len(cfg.Media), cfg.Poll.Interval.Duration)
	if cfg.Poll.Schedule != "" {
		printInfo(w, "poll schedule %q overrides the interval", cfg.Poll.Schedule)
	}

	// Sources
	if _, err := buildRegistry(cfg); err != nil {
		printCheck(w, false, "sources: %v", err)
		ok = false
	} else {
		printCheck(w, true, "sources")
	}

	// Watermarks
	backend, err := openBackend(cfg, configDir)
	if err != nil {
		printCheck(w, false, "watermarks: %v", err)
		ok = false
	} else {
		records, lerr := backend.List(ctx)
		_ = backend.Close()
		if lerr != nil {
			printCheck(w, false, "watermarks %s: %v", cfg.StatePath(configDir), lerr)
			ok = false
		} else {
			printCheck(w, true, "watermarks %s (%s driver, %d saved)", cfg.StatePath(configDir), cfg.Watermark.Driver, len(records))
			if len(records) == 0 {
				printInfo(w, "no watermarks yet: the first run announces the latest update of every media")
			}
		}
	}

	// Sinks
	sinks, err := buildSinks(cfg, io.Discard)
	if err != nil {
		printCheck(w, false, "sinks: %v", err)
		ok = false
	} else if !doctorOffline {
		for _, s := range sinks {
			if verr := verifySinks(ctx, []sink.Sink{s}, zerolog.Nop()); verr != nil {
				printCheck(w, false, "%s sink: %v", s.Name(), verr)
				ok = false
				continue
			}
			printCheck(w, true, "%s sink", s.Name())
		}
	} else {
		printCheck(w, true, "%d sinks configured (not verified)", len(sinks))
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Fprintln(w, "\nAll checks passed.")
	return nil
}

func printCheck(w io.Writer, pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "[INFO] %s\n", fmt.Sprintf(format, args...))
}
