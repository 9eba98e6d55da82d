// Package tracker maintains the local view of in-flight orders. Observations
// arrive from dispatcher acknowledgements, stream fill events, and an
// optional polling fallback; a single reconciliation goroutine merges them so
// the state for any order never regresses.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// Source identifies where an observation came from.
type Source string

const (
	SourceAck    Source = "ack"
	SourceStream Source = "stream"
	SourcePoll   Source = "poll"
)

// Observation is one report about an order's state from some source. The
// first observation for an unknown order registers it.
type Observation struct {
	Source Source
	Order  domain.Order
}

// Warning reports a reconciliation conflict: two sources claimed different
// terminal states for the same order. The first terminal state wins; the
// conflicting one is recorded here and never applied.
type Warning struct {
	OrderID string
	Kept    domain.OrderStatus
	Ignored domain.OrderStatus
	Source  Source
	At      time.Time
}

const (
	defaultObsBuffer    = 256
	defaultWarnBuffer   = 16
	defaultPollInterval = 30 * time.Second
	defaultPollTimeout  = 10 * time.Second
)

// Config wires the tracker's collaborators.
type Config struct {
	// Journal persists order states and reconciliation warnings. Optional.
	Journal domain.OrderJournal
	// Poll fetches authoritative open-order state when the stream is
	// quiet or distrusted. Optional; disabled when nil.
	Poll         func(ctx context.Context) ([]domain.Order, error)
	PollInterval time.Duration
	Logger       *slog.Logger
	Buffer       int
}

// Tracker reconciles order observations from multiple sources into one
// consistent local view. All mutation happens on the Run goroutine; reads go
// through a lock and are safe from any goroutine.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	obs      chan Observation
	warnings chan Warning

	mu       sync.RWMutex
	orders   map[string]domain.Order
	byClient map[string]string
}

// New builds a Tracker. Call Run to start reconciliation.
func New(cfg Config) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultObsBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "tracker")),
		obs:      make(chan Observation, cfg.Buffer),
		warnings: make(chan Warning, defaultWarnBuffer),
		orders:   make(map[string]domain.Order),
		byClient: make(map[string]string),
	}
}

// Run drives the reconciliation loop until ctx is cancelled. It is the only
// goroutine that mutates tracker state.
func (t *Tracker) Run(ctx context.Context) error {
	var pollc <-chan time.Time
	if t.cfg.Poll != nil {
		ticker := time.NewTicker(t.cfg.PollInterval)
		defer ticker.Stop()
		pollc = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs := <-t.obs:
			t.apply(ctx, obs)
		case <-pollc:
			t.poll(ctx)
		}
	}
}

// Observe submits one observation for reconciliation. It blocks only when
// the reconciliation queue is full.
func (t *Tracker) Observe(ctx context.Context, obs Observation) error {
	select {
	case t.obs <- obs:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tracker: observe: %w", ctx.Err())
	}
}

// Track registers a freshly placed order. Equivalent to an ack observation.
func (t *Tracker) Track(ctx context.Context, order domain.Order) error {
	return t.Observe(ctx, Observation{Source: SourceAck, Order: order})
}

// Warnings returns the reconciliation warning channel. Warnings are also
// logged and journaled; the channel is best-effort and drops when the
// consumer lags.
func (t *Tracker) Warnings() <-chan Warning {
	return t.warnings
}

// Get returns the current view of an order by venue ID or client ID.
func (t *Tracker) Get(id string) (domain.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	if oid, ok := t.byClient[id]; ok {
		o, ok := t.orders[oid]
		return o, ok
	}
	return domain.Order{}, false
}

// Active returns all orders not yet in a terminal state.
func (t *Tracker) Active() []domain.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.Order
	for _, o := range t.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

func (t *Tracker) poll(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, defaultPollTimeout)
	defer cancel()

	orders, err := t.cfg.Poll(pctx)
	if err != nil {
		t.logger.Warn("order poll failed", slog.String("error", err.Error()))
		return
	}
	for _, o := range orders {
		t.apply(ctx, Observation{Source: SourcePoll, Order: o})
	}
}

// apply merges one observation into the tracked state. Rules:
//
//   - Filled size only ever increases; the maximum across sources wins,
//     clamped to the order size.
//   - A terminal status is never overwritten. A different terminal status
//     from another source raises a warning instead of being applied.
//   - Non-terminal statuses advance only forward (pending -> open ->
//     partially_filled -> filled); stale reports are ignored.
func (t *Tracker) apply(ctx context.Context, obs Observation) {
	in := obs.Order
	key := in.ID
	if key == "" {
		key = in.ClientID
	}
	if key == "" {
		t.logger.Warn("observation without order id dropped", slog.String("source", string(obs.Source)))
		return
	}

	t.mu.Lock()
	cur, curKey, known := t.lookupLocked(in)
	if !known {
		if in.UpdatedAt.IsZero() {
			in.UpdatedAt = time.Now().UTC()
		}
		if in.Size > 0 && in.Filled > in.Size {
			in.Filled = in.Size
		}
		t.orders[key] = in
		if in.ClientID != "" && in.ID != "" {
			t.byClient[in.ClientID] = in.ID
		}
		t.mu.Unlock()
		t.journal(ctx, in)
		return
	}

	changed := false
	var conflict *Warning

	// An overfill report is clamped: filled size never exceeds order size.
	fill := in.Filled
	if cur.Size > 0 && fill > cur.Size {
		fill = cur.Size
	}
	if fill > cur.Filled {
		cur.Filled = fill
		changed = true
	}

	switch {
	case cur.Status.Terminal():
		if in.Status.Terminal() && in.Status != cur.Status {
			conflict = &Warning{
				OrderID: cur.ID,
				Kept:    cur.Status,
				Ignored: in.Status,
				Source:  obs.Source,
				At:      time.Now().UTC(),
			}
		}
	case cur.Status.CanTransition(in.Status):
		cur.Status = in.Status
		changed = true
	}

	// A full fill implies the terminal filled state when nothing terminal
	// has been observed yet.
	if !cur.Status.Terminal() && cur.Size > 0 && cur.Filled >= cur.Size {
		cur.Status = domain.OrderStatusFilled
		changed = true
	}

	if changed {
		if in.UpdatedAt.After(cur.UpdatedAt) {
			cur.UpdatedAt = in.UpdatedAt
		} else {
			cur.UpdatedAt = time.Now().UTC()
		}
		t.orders[curKey] = cur
	}
	t.mu.Unlock()

	if changed {
		t.journal(ctx, cur)
	}
	if conflict != nil {
		t.warn(ctx, *conflict)
	}
}

// lookupLocked resolves an observation to a tracked order and its map key,
// linking client IDs to venue IDs on first sight.
func (t *Tracker) lookupLocked(in domain.Order) (domain.Order, string, bool) {
	if in.ID != "" {
		if o, ok := t.orders[in.ID]; ok {
			return o, in.ID, true
		}
	}
	if in.ClientID != "" {
		if oid, ok := t.byClient[in.ClientID]; ok {
			if o, ok := t.orders[oid]; ok {
				return o, oid, true
			}
		}
		if o, ok := t.orders[in.ClientID]; ok {
			// Registered before the venue assigned an ID; migrate the key.
			if in.ID != "" {
				o.ID = in.ID
				delete(t.orders, in.ClientID)
				t.orders[in.ID] = o
				t.byClient[in.ClientID] = in.ID
				return o, in.ID, true
			}
			return o, in.ClientID, true
		}
	}
	return domain.Order{}, "", false
}

func (t *Tracker) journal(ctx context.Context, o domain.Order) {
	if t.cfg.Journal == nil {
		return
	}
	if err := t.cfg.Journal.Record(ctx, o); err != nil {
		t.logger.Warn("order journal write failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Tracker) warn(ctx context.Context, w Warning) {
	t.logger.Warn("conflicting terminal states for order",
		slog.String("order_id", w.OrderID),
		slog.String("kept", string(w.Kept)),
		slog.String("ignored", string(w.Ignored)),
		slog.String("source", string(w.Source)),
	)
	if t.cfg.Journal != nil {
		msg := fmt.Sprintf("terminal conflict: kept %s, ignored %s from %s", w.Kept, w.Ignored, w.Source)
		if err := t.cfg.Journal.RecordWarning(ctx, w.OrderID, msg, w.At); err != nil {
			t.logger.Warn("warning journal write failed", slog.String("error", err.Error()))
		}
	}
	select {
	case t.warnings <- w:
	default:
	}
}
