// Package stream manages one live websocket connection per subscription and
// normalizes venue frames into canonical orderbook and trade updates. Each
// subscription is an explicit state machine with reconnection, sequence-gap
// resynchronization, and first-class cancellation; within one subscription
// updates are delivered in sequence order to exactly one consumer.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// State is the connection state of one subscription.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateResyncing    State = "resyncing"
	StateClosed       State = "closed"
)

const (
	defaultBaseBackoff  = 2 * time.Second
	defaultMaxBackoff   = 60 * time.Second
	defaultBuffer       = 64
	handshakeTimeout    = 15 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Event is one venue-decoded message before sequencing. Protocol
// implementations produce these; the subscription applies sequencing rules
// and turns them into canonical updates.
type Event struct {
	Kind  domain.UpdateKind
	Book  domain.Orderbook // set for UpdateKindBook
	Delta domain.BookDelta // set for UpdateKindBookDelta
	Trade domain.Trade     // set for UpdateKindTrade
}

// Protocol supplies the venue-specific framing for one subscription: the
// handshake written after connect and the decoding of raw frames. Decode may
// return zero events for frames the venue sends that carry no book or trade
// content (acks, heartbeats).
type Protocol interface {
	Subscribe(conn *websocket.Conn, assetID string) error
	Decode(raw []byte) ([]Event, error)
}

// SnapshotFetcher re-fetches a full orderbook snapshot through the
// dispatcher. The subscription calls it once per detected sequence gap.
type SnapshotFetcher func(ctx context.Context, assetID string) (domain.Orderbook, error)

// Config describes one subscription.
type Config struct {
	Venue   string
	AssetID string
	URL     string

	Protocol Protocol
	Fetch    SnapshotFetcher

	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// BackoffCeiling bounds the cumulative reconnect backoff of a single
	// outage; once exceeded the subscription terminates and reports
	// ErrStreamDisconnected. Zero means retry forever.
	BackoffCeiling time.Duration

	Buffer int
	Logger *slog.Logger
}

// Tuning bundles the reconnect parameters a venue client passes through to
// Open. The zero value uses the package defaults.
type Tuning struct {
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	BackoffCeiling time.Duration
	Buffer         int
}

// Subscription is a live, restartable sequence of canonical updates for one
// (venue, asset) pair. One consumer reads Updates; Close tears the
// connection and the run goroutine down deterministically.
type Subscription struct {
	cfg    Config
	logger *slog.Logger

	updates chan domain.CanonicalUpdate
	done    chan struct{}
	closed  sync.Once

	mu      sync.Mutex
	state   State
	err     error
	lastSeq uint64
	book    domain.Orderbook
}

// Open starts the subscription's connection loop and returns immediately.
func Open(cfg Config) *Subscription {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Subscription{
		cfg: cfg,
		logger: logger.With(
			slog.String("component", "stream"),
			slog.String("venue", cfg.Venue),
			slog.String("asset", cfg.AssetID),
		),
		updates: make(chan domain.CanonicalUpdate, cfg.Buffer),
		done:    make(chan struct{}),
		state:   StateDisconnected,
	}

	go s.run()
	return s
}

// Updates returns the canonical update channel. It is closed when the
// subscription terminates, either by Close or by exhausting the backoff
// ceiling.
func (s *Subscription) Updates() <-chan domain.CanonicalUpdate {
	return s.updates
}

// State returns the current connection state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error after Updates is closed, nil for a clean
// Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the subscription: the connection is torn down and the run
// goroutine exits. Safe to call multiple times.
func (s *Subscription) Close() {
	s.closed.Do(func() { close(s.done) })
}

func (s *Subscription) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.state = StateClosed
	s.err = err
	s.mu.Unlock()
}

// run drives the state machine:
//
//	Disconnected -> Connecting -> Subscribed -> {Subscribed, Resyncing} -> Disconnected
//
// It reconnects with exponential backoff forever until cancelled or, when a
// backoff ceiling is configured, until one outage's cumulative backoff
// exceeds it.
func (s *Subscription) run() {
	defer close(s.updates)

	outageBackoff := time.Duration(0) // cumulative within the current outage
	delay := s.cfg.BaseBackoff

	for {
		select {
		case <-s.done:
			s.fail(nil)
			return
		default:
		}

		s.setState(StateConnecting)
		subscribed, err := s.runConnection()

		select {
		case <-s.done:
			s.fail(nil)
			return
		default:
		}

		// A session that reached Subscribed ends the current outage; its
		// drop starts a new one with a fresh backoff schedule.
		if subscribed {
			delay = s.cfg.BaseBackoff
			outageBackoff = 0
		}

		s.setState(StateDisconnected)
		s.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		outageBackoff += delay
		if s.cfg.BackoffCeiling > 0 && outageBackoff > s.cfg.BackoffCeiling {
			s.fail(fmt.Errorf("stream %s/%s: reconnect ceiling exhausted: %w",
				s.cfg.Venue, s.cfg.AssetID, domain.ErrStreamDisconnected))
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-s.done:
			timer.Stop()
			s.fail(nil)
			return
		case <-timer.C:
		}

		delay *= 2
		if delay > s.cfg.MaxBackoff {
			delay = s.cfg.MaxBackoff
		}
	}
}

// runConnection dials, subscribes, and pumps frames until the connection
// drops or the subscription is cancelled. The boolean reports whether the
// session reached Subscribed.
func (s *Subscription) runConnection() (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("%w: connect: %v", domain.ErrStreamDisconnected, err)
	}
	defer conn.Close()

	// Unblock the read loop when the consumer cancels.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-s.done:
			conn.Close()
		case <-watcherDone:
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := s.cfg.Protocol.Subscribe(conn, s.cfg.AssetID); err != nil {
		return false, fmt.Errorf("%w: subscribe handshake: %v", domain.ErrStreamDisconnected, err)
	}
	conn.SetWriteDeadline(time.Time{})

	s.setState(StateSubscribed)
	s.logger.Info("stream subscribed")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return true, nil
			default:
				return true, fmt.Errorf("%w: read: %v", domain.ErrStreamDisconnected, err)
			}
		}

		events, err := s.cfg.Protocol.Decode(raw)
		if err != nil {
			// A frame that fails to decode is dropped, not fatal: the
			// sequence check catches any update we missed because of it.
			s.logger.Debug("undecodable frame dropped", slog.String("error", err.Error()))
			continue
		}

		for _, ev := range events {
			if !s.apply(ev) {
				return true, nil // cancelled mid-delivery
			}
		}
	}
}

// apply runs the sequencing rules for one event and emits the resulting
// canonical update. It reports false when the subscription was cancelled.
func (s *Subscription) apply(ev Event) bool {
	switch ev.Kind {
	case domain.UpdateKindBook:
		book := ev.Book
		book.Normalize()
		s.mu.Lock()
		s.book = book
		s.lastSeq = book.Seq
		s.mu.Unlock()
		return s.emit(domain.CanonicalUpdate{Kind: domain.UpdateKindBook, Book: book.Clone()})

	case domain.UpdateKindBookDelta:
		s.mu.Lock()
		last := s.lastSeq
		s.mu.Unlock()

		switch {
		case ev.Delta.Seq == 0 && s.hasBook():
			// Venue without sequence numbers: apply in arrival order.
			s.mu.Lock()
			s.book.ApplyDelta(ev.Delta)
			book := s.book.Clone()
			s.mu.Unlock()
			return s.emit(domain.CanonicalUpdate{Kind: domain.UpdateKindBookDelta, Book: book, Delta: ev.Delta})
		case ev.Delta.Seq > 0 && ev.Delta.Seq <= last:
			// Duplicate or stale; already applied.
			return true
		case last > 0 && ev.Delta.Seq == last+1:
			s.mu.Lock()
			s.book.ApplyDelta(ev.Delta)
			s.lastSeq = ev.Delta.Seq
			book := s.book.Clone()
			s.mu.Unlock()
			return s.emit(domain.CanonicalUpdate{Kind: domain.UpdateKindBookDelta, Book: book, Delta: ev.Delta})
		default:
			// Gap, or a delta arriving before any snapshot: discard what we
			// have and resynchronize from a fresh snapshot.
			return s.resync()
		}

	case domain.UpdateKindTrade:
		return s.emit(domain.CanonicalUpdate{Kind: domain.UpdateKindTrade, Trade: ev.Trade})
	}
	return true
}

func (s *Subscription) hasBook() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.HasData()
}

// resync fetches exactly one full snapshot through the dispatcher-backed
// fetcher and resumes from its sequence number. Buffered deltas from before
// the gap are already discarded by virtue of replacing the whole book.
func (s *Subscription) resync() bool {
	s.setState(StateResyncing)
	s.logger.Info("sequence gap detected, resyncing")

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	book, err := s.cfg.Fetch(ctx, s.cfg.AssetID)
	cancel()
	if err != nil {
		// Resync failure is handled like a disconnect: drop the connection
		// state and let the reconnect path try again.
		s.logger.Warn("resync snapshot fetch failed", slog.String("error", err.Error()))
		s.setState(StateSubscribed)
		return true
	}

	book.Normalize()
	s.mu.Lock()
	s.book = book
	s.lastSeq = book.Seq
	s.mu.Unlock()

	s.setState(StateSubscribed)
	return s.emit(domain.CanonicalUpdate{Kind: domain.UpdateKindBook, Book: book.Clone()})
}

// emit delivers one update to the consumer, honoring cancellation.
func (s *Subscription) emit(u domain.CanonicalUpdate) bool {
	select {
	case s.updates <- u:
		return true
	case <-s.done:
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return "server closed"
	}
	return err.Error()
}
