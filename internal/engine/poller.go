package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/upd8r/upd8r/internal/source"
	"github.com/upd8r/upd8r/internal/update"
	"github.com/upd8r/upd8r/internal/watermark"
)

// DefaultInterval is the wait between ticks when no schedule is set.
const DefaultInterval = 60 * time.Second

// Conduit accepts formatted messages for one sink. Push must not block.
type Conduit interface {
	Push(msg string) error
}

// TickReport summarizes one pass over every media.
type TickReport struct {
	ID           string
	Started      time.Time
	Duration     time.Duration
	Checked      int
	Updates      []update.Update
	Errors       map[string]error // by media key
	PushFailures int
	PersistErr   error // first persist failure, if any
}

// MediaStatus is the last known state of one media.
type MediaStatus struct {
	Media        update.Media `json:"-"`
	Key          string       `json:"key"`
	Name         string       `json:"name"`
	LastCheck    time.Time    `json:"last_check"`
	LastError    string       `json:"last_error,omitempty"`
	LastID       uint64       `json:"last_id,omitempty"`
	LastMessage  string       `json:"last_message,omitempty"`
	LastUpdateAt time.Time    `json:"last_update_at"`
}

// Snapshot is a copy of the poller's state.
type Snapshot struct {
	Ticks    uint64        `json:"ticks"`
	LastTick time.Time     `json:"last_tick"`
	Media    []MediaStatus `json:"media"`
}

type Option func(*Poller)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) { p.log = l.With().Str("comp", "poller").Logger() }
}

// WithSchedule sets when ticks run. Nil keeps the default interval.
func WithSchedule(s cron.Schedule) Option {
	return func(p *Poller) {
		if s != nil {
			p.schedule = s
		}
	}
}

// WithAfterTick registers fn to run after every tick.
func WithAfterTick(fn func(TickReport)) Option {
	return func(p *Poller) { p.afterTick = fn }
}

// WithFatalPersist makes Run return when a watermark cannot be saved. The
// update has already been dispatched by then.
func WithFatalPersist(fatal bool) Option {
	return func(p *Poller) { p.fatalPersist = fatal }
}

// Poller checks every registered media in order, once per tick, and pushes
// each new update to every conduit.
type Poller struct {
	registry *source.Registry
	detector *Detector
	conduits []Conduit

	schedule     cron.Schedule
	afterTick    func(TickReport)
	fatalPersist bool
	log          zerolog.Logger
	now          func() time.Time

	mu       sync.Mutex
	ticks    uint64
	lastTick time.Time
	status   map[string]*MediaStatus
}

func NewPoller(registry *source.Registry, detector *Detector, conduits []Conduit, opts ...Option) (*Poller, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, errors.New("no media registered")
	}
	if detector == nil {
		return nil, errors.New("detector is required")
	}

	p := &Poller{
		registry: registry,
		detector: detector,
		conduits: append([]Conduit(nil), conduits...),
		schedule: cron.Every(DefaultInterval),
		log:      zerolog.Nop(),
		now:      time.Now,
		status:   make(map[string]*MediaStatus, registry.Len()),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, m := range registry.Media() {
		p.status[m.Key] = &MediaStatus{Media: m, Key: m.Key, Name: m.String()}
	}
	return p, nil
}

// Run ticks until ctx is cancelled. It returns nil on cancellation, or the
// persist error when fatal persist is enabled.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Int("media", p.registry.Len()).Int("sinks", len(p.conduits)).Msg("poller started")
	for {
		rep := p.Tick(ctx)
		if p.fatalPersist && rep.PersistErr != nil {
			return rep.PersistErr
		}

		now := p.now()
		wait := p.schedule.Next(now).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info().Msg("poller stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick checks every media once, in registry order. A failing media or a
// failing conduit never stops the rest of the tick.
func (p *Poller) Tick(ctx context.Context) TickReport {
	rep := TickReport{
		ID:      uuid.NewString(),
		Started: p.now(),
		Errors:  make(map[string]error),
	}
	log := p.log.With().Str("tick", rep.ID).Logger()

	for _, m := range p.registry.Media() {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++

		upd, err := p.detector.Check(ctx, m)
		var perr *watermark.PersistError
		switch {
		case errors.As(err, &perr):
			log.Error().Err(err).Str("media", m.Key).Uint64("id", perr.Value).Msg("watermark not saved, update may repeat after restart")
			rep.Errors[m.Key] = err
			if rep.PersistErr == nil {
				rep.PersistErr = err
			}
		case err != nil:
			log.Warn().Err(err).Str("media", m.Key).Msg("check failed")
			rep.Errors[m.Key] = err
		}

		if upd != nil {
			rep.Updates = append(rep.Updates, *upd)
			rep.PushFailures += p.dispatch(log, *upd)
		}
		p.record(m, upd, err)
	}

	rep.Duration = p.now().Sub(rep.Started)
	p.mu.Lock()
	p.ticks++
	p.lastTick = rep.Started
	p.mu.Unlock()

	log.Debug().
		Int("checked", rep.Checked).
		Int("updates", len(rep.Updates)).
		Int("errors", len(rep.Errors)).
		Dur("took", rep.Duration).
		Msg("tick done")

	if p.afterTick != nil {
		p.afterTick(rep)
	}
	return rep
}

// dispatch pushes upd to every conduit and returns how many refused it.
func (p *Poller) dispatch(log zerolog.Logger, upd update.Update) int {
	msg := upd.Message()
	log.Info().Str("media", upd.Media.Key).Uint64("id", upd.ID).Str("title", upd.Title).Msg("new update")

	failed := 0
	for i, c := range p.conduits {
		if err := c.Push(msg); err != nil {
			failed++
			log.Warn().Err(err).Int("sink", i).Str("media", upd.Media.Key).Msg("push failed")
		}
	}
	return failed
}

func (p *Poller) record(m update.Media, upd *update.Update, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.status[m.Key]
	if !ok {
		return
	}
	now := p.now()
	st.LastCheck = now
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	if upd != nil {
		st.LastID = upd.ID
		st.LastMessage = upd.Message()
		st.LastUpdateAt = now
	}
}

// Snapshot returns the current state, media in registry order.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{Ticks: p.ticks, LastTick: p.lastTick}
	for _, m := range p.registry.Media() {
		if st, ok := p.status[m.Key]; ok {
			snap.Media = append(snap.Media, *st)
		}
	}
	return snap
}
