// Package persistence stores compacted board state and coalesces rapid save
// requests into one write per debounce window.
package persistence

import (
	"boardsync/core"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDebounce      = 5 * time.Second
	DefaultMaxRetries    = 5
	defaultRetryInterval = 200 * time.Millisecond
	flushTimeout         = 30 * time.Second
)

// Producer returns the state to persist. It runs when the save fires, so the
// write reflects the document at flush time.
type Producer func() ([]byte, error)

type Options struct {
	Debounce      time.Duration
	MaxRetries    uint
	RetryInterval time.Duration
}

type pendingSave struct {
	timer *time.Timer
	gen   uint64
}

// flight is a debounced save that has fired and is still running.
type flight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Gateway struct {
	store         core.StateStore
	debounce      time.Duration
	maxRetries    uint
	retryInterval time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingSave
	flights  map[string]map[*flight]struct{}
	gen      uint64
	inflight sync.WaitGroup
}

func NewGateway(store core.StateStore, opts Options) *Gateway {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	return &Gateway{
		store:         store,
		debounce:      opts.Debounce,
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
		pending:       make(map[string]*pendingSave),
		flights:       make(map[string]map[*flight]struct{}),
	}
}

// Load returns the persisted state; found is false when the board has no
// history yet.
func (g *Gateway) Load(ctx context.Context, boardID string) (data []byte, found bool, err error) {
	state, err := g.store.LoadState(ctx, boardID)
	if err != nil {
		if errors.Is(err, core.ErrStateNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load state for board %s: %w", boardID, err)
	}
	return state.Data, true, nil
}

// Save upserts the state, retrying with exponential backoff.
func (g *Gateway) Save(ctx context.Context, boardID string, data []byte) error {
	if err := g.save(ctx, boardID, data); err != nil {
		return fmt.Errorf("failed to save state for board %s: %w", boardID, err)
	}
	return nil
}

func (g *Gateway) save(ctx context.Context, boardID string, data []byte) error {
	log := logrus.WithField("board_id", boardID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retryInterval

	save := func() (struct{}, error) {
		// A cancelled save must not write, even between retries.
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, g.store.SaveState(ctx, boardID, data)
	}
	_, err := backoff.Retry(ctx, save,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.maxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithError(err).WithField("retry_in", next).Warn("Board state save failed, retrying")
		}),
	)
	return err
}

// SaveDebounced schedules a save after the debounce delay, replacing any save
// already scheduled for the same board.
func (g *Gateway) SaveDebounced(boardID string, produce Producer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.pending[boardID]; ok {
		p.timer.Stop()
	}

	g.gen++
	gen := g.gen
	p := &pendingSave{gen: gen}
	p.timer = time.AfterFunc(g.debounce, func() {
		g.fire(boardID, gen, produce)
	})
	g.pending[boardID] = p
}

func (g *Gateway) fire(boardID string, gen uint64, produce Producer) {
	g.mu.Lock()
	p, ok := g.pending[boardID]
	// A timer that lost the race with Stop finds a newer generation or nothing.
	if !ok || p.gen != gen {
		g.mu.Unlock()
		return
	}
	delete(g.pending, boardID)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	f := &flight{cancel: cancel, done: make(chan struct{})}
	if g.flights[boardID] == nil {
		g.flights[boardID] = make(map[*flight]struct{})
	}
	g.flights[boardID][f] = struct{}{}
	g.inflight.Add(1)
	g.mu.Unlock()

	defer func() {
		cancel()
		g.mu.Lock()
		delete(g.flights[boardID], f)
		if len(g.flights[boardID]) == 0 {
			delete(g.flights, boardID)
		}
		g.mu.Unlock()
		close(f.done)
		g.inflight.Done()
	}()

	log := logrus.WithField("board_id", boardID)

	data, err := produce()
	if err != nil {
		log.WithError(err).Error("Failed to produce board state for debounced save")
		return
	}

	if err := g.save(ctx, boardID, data); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Debug("Debounced board state save cancelled")
			return
		}
		log.WithError(err).Error("Debounced board state save failed after retries, state is only in memory")
		return
	}
	log.WithField("data_length", len(data)).Debug("Debounced board state saved")
}

// Cancel drops the scheduled save for a board, if any.
func (g *Gateway) Cancel(boardID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[boardID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(g.pending, boardID)
	return true
}

// Delete removes the stored state. Saves still scheduled for the board are
// dropped, and saves already running are cancelled and waited for, so none
// of them can write the state back afterwards.
func (g *Gateway) Delete(ctx context.Context, boardID string) error {
	g.mu.Lock()
	if p, ok := g.pending[boardID]; ok {
		p.timer.Stop()
		delete(g.pending, boardID)
	}
	running := make([]*flight, 0, len(g.flights[boardID]))
	for f := range g.flights[boardID] {
		running = append(running, f)
	}
	g.mu.Unlock()

	for _, f := range running {
		f.cancel()
		select {
		case <-f.done:
		case <-ctx.Done():
			return fmt.Errorf("failed to delete state for board %s: %w", boardID, ctx.Err())
		}
	}

	if err := g.store.DeleteState(ctx, boardID); err != nil {
		return fmt.Errorf("failed to delete state for board %s: %w", boardID, err)
	}
	return nil
}

// FlushPending cancels every scheduled save that has not fired yet and waits
// for saves already running. It does not write anything itself; callers that
// need current state on disk must Save it first.
func (g *Gateway) FlushPending() int {
	g.mu.Lock()
	cancelled := 0
	for boardID, p := range g.pending {
		if p.timer.Stop() {
			cancelled++
		}
		delete(g.pending, boardID)
	}
	g.mu.Unlock()

	g.inflight.Wait()
	return cancelled
}

// Pending reports how many saves are scheduled but not yet fired.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
