package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/upd8r/upd8r/internal/config"
	"github.com/upd8r/upd8r/internal/status"
)

const defaultDrainTimeout = 30 * time.Second

var (
	runOnce         bool
	runNoVerify     bool
	runDrainTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll all media and announce new updates until interrupted",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single tick, deliver, and exit")
	runCmd.Flags().BoolVar(&runNoVerify, "no-verify", false, "skip sink credential checks at startup")
	runCmd.Flags().DurationVar(&runDrainTimeout, "drain-timeout", defaultDrainTimeout, "how long to keep delivering queued messages on shutdown")
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cmd.ErrOrStderr(), cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, configDir, log, appOptions{
		stdout:   cmd.OutOrStdout(),
		noVerify: runNoVerify,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if runOnce {
		return a.runOnce(ctx, runDrainTimeout)
	}
	return a.run(ctx, runDrainTimeout)
}

// runOnce performs one tick and waits for delivery.
func (a *app) runOnce(ctx context.Context, drain time.Duration) error {
	wait := a.startRunners(ctx)
	rep := a.poller.Tick(ctx)
	a.closeConduits()
	wait(drain)

	a.log.Info().
		Int("checked", rep.Checked).
		Int("updates", len(rep.Updates)).
		Int("errors", len(rep.Errors)).
		Msg("tick complete")
	if rep.PersistErr != nil && a.cfg.Watermark.OnPersistError == config.PolicyFatal {
		return rep.PersistErr
	}
	return nil
}

// run polls until ctx is cancelled or a fatal error occurs, then drains the
// sinks for at most drain.
func (a *app) run(ctx context.Context, drain time.Duration) error {
	wait := a.startRunners(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer a.closeConduits()
		return a.poller.Run(gctx)
	})
	if addr := a.cfg.Status.Listen; addr != "" {
		srv := status.New(a.poller, a.marks, a.log)
		g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	}
	g.Go(func() error {
		watchdog(gctx, a.log)
		return nil
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	err := g.Wait()
	sdNotify(a.log, daemon.SdNotifyStopping)

	a.closeConduits()
	wait(drain)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startRunners starts one runner per sink. The returned func waits for them
// to drain, cancelling delivery once the deadline passes.
func (a *app) startRunners(ctx context.Context) func(drain time.Duration) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var rg errgroup.Group
	for _, r := range a.runners {
		rg.Go(func() error { return r.Run(runCtx) })
	}

	return func(drain time.Duration) {
		defer cancel()
		done := make(chan struct{})
		go func() {
			_ = rg.Wait()
			close(done)
		}()
		timer := time.NewTimer(drain)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			a.log.Warn().Dur("timeout", drain).Msg("drain deadline passed, abandoning queued messages")
			cancel()
			<-done
		}
	}
}

// watchdog pings the systemd watchdog at half its interval, when enabled.
func watchdog(ctx context.Context, log zerolog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}
}

func sdNotify(log zerolog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}
