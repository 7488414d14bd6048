package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/facelab/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout      = 60 * time.Second
	DefaultStartTimeout = 30 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
	DefaultMaxRespawns  = 5
)

var (
	// ErrJobAborted means a worker slot kept failing past its respawn budget.
	ErrJobAborted = errors.New("job aborted")
	// ErrNoWorkers means ProcessInfo produced nothing to spawn.
	ErrNoWorkers = errors.New("no workers to spawn")
)

// DefaultMaxItemAttempts is the per-item cap used when none is set: one more
// than the respawn budget of a slot.
func DefaultMaxItemAttempts(maxRespawns int) int {
	return maxRespawns + 1
}

// ProcessInfo describes one worker slot: Host stays on the host side and is
// handed to the data hooks, Init is sent to the worker's OnInitialize.
type ProcessInfo struct {
	ID   string
	Host map[string]string
	Init map[string]string
}

// Hooks are the caller-supplied parts of a job. They are only ever called
// from the goroutine running Host.Run, so they need no locking.
type Hooks struct {
	// ProcessInfo lists the workers to spawn, one per entry. Required.
	ProcessInfo func() []ProcessInfo
	// GetData returns the next item for an idle worker, or false to park it. Required.
	GetData func(host map[string]string) (types.WorkItem, bool)
	// OnDataReturn takes back an item whose worker died or timed out. Required.
	OnDataReturn func(host map[string]string, item types.WorkItem)
	// OnResult receives every completed item exactly once. Required.
	OnResult func(host map[string]string, item types.WorkItem, res types.Result)

	OnClientsInitialized func()
	OnClientsFinalized   func()
}

// Host owns a pool of workers, feeds them items, and survives individual
// worker crashes and hangs by respawning the slot and handing the item back.
type Host[R any] struct {
	Name   string
	Client string // name the client spec is registered under

	Spawner         Spawner
	Timeout         time.Duration // per item
	StartTimeout    time.Duration // spawn to ready
	PollInterval    time.Duration
	MaxRespawns     int // per slot, before the whole job aborts
	// MaxItemAttempts is how many times one item may be handed back before it
	// is completed as failed. Zero means MaxRespawns+1, so an item is never
	// abandoned while its slot still has respawns left. Negative disables.
	MaxItemAttempts int

	Hooks
	GetResult func() R
}

// Run drives the job to completion and returns GetResult().
func (h *Host[R]) Run(ctx context.Context) (R, error) {
	var zero R
	if err := h.validate(); err != nil {
		return zero, err
	}

	e := &engine{
		name:            h.Name,
		client:          h.Client,
		spawner:         h.Spawner,
		timeout:         orDefault(h.Timeout, DefaultTimeout),
		startTimeout:    orDefault(h.StartTimeout, DefaultStartTimeout),
		pollInterval:    orDefault(h.PollInterval, DefaultPollInterval),
		maxRespawns:     h.MaxRespawns,
		maxItemAttempts: h.MaxItemAttempts,
		hooks:           h.Hooks,
		attempts:        make(map[int]int),
	}
	if e.spawner == nil {
		e.spawner = ProcessSpawner{}
	}
	if e.maxRespawns <= 0 {
		e.maxRespawns = DefaultMaxRespawns
	}
	if e.maxItemAttempts == 0 {
		e.maxItemAttempts = DefaultMaxItemAttempts(e.maxRespawns)
	}
	runID := uuid.NewString()
	e.log = log.With().Str("job", h.Name).Str("run", runID[:8]).Logger()

	if err := e.run(ctx); err != nil {
		return zero, fmt.Errorf("%s: %w", h.Name, err)
	}
	return h.GetResult(), nil
}

func (h *Host[R]) validate() error {
	var missing []string
	if h.Client == "" {
		missing = append(missing, "Client")
	}
	if h.ProcessInfo == nil {
		missing = append(missing, "ProcessInfo")
	}
	if h.GetData == nil {
		missing = append(missing, "GetData")
	}
	if h.OnDataReturn == nil {
		missing = append(missing, "OnDataReturn")
	}
	if h.OnResult == nil {
		missing = append(missing, "OnResult")
	}
	if h.GetResult == nil {
		missing = append(missing, "GetResult")
	}
	if len(missing) > 0 {
		return fmt.Errorf("host %q is missing %s", h.Name, strings.Join(missing, ", "))
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

type slotState int

const (
	stateStarting slotState = iota
	stateIdle
	stateBusy
)

type slot struct {
	info     ProcessInfo
	conn     Conn
	gen      int // bumped on every spawn so events from a dead conn are ignored
	state    slotState
	item     types.WorkItem
	deadline time.Time
	respawns int
	ready    bool // became ready at least once
}

type event struct {
	slot int
	gen  int
	msg  Message
	err  error
}

// engine holds the state of one Run. Everything except the reader
// goroutines runs on the Run goroutine.
type engine struct {
	name            string
	client          string
	spawner         Spawner
	timeout         time.Duration
	startTimeout    time.Duration
	pollInterval    time.Duration
	maxRespawns     int
	maxItemAttempts int
	hooks           Hooks
	log             zerolog.Logger

	slots    []*slot
	events   chan event
	stop     chan struct{}
	attempts map[int]int // item index -> times handed back
}

func (e *engine) run(ctx context.Context) (err error) {
	infos := e.hooks.ProcessInfo()
	if len(infos) == 0 {
		return ErrNoWorkers
	}

	e.events = make(chan event, 4*len(infos))
	e.stop = make(chan struct{})
	defer close(e.stop)

	initialized := false
	defer func() {
		if err != nil {
			e.killAll()
			if initialized && e.hooks.OnClientsFinalized != nil {
				e.hooks.OnClientsFinalized()
			}
		}
	}()

	e.log.Debug().Int("workers", len(infos)).Msg("Spawning workers")
	for i, info := range infos {
		e.slots = append(e.slots, &slot{info: info})
		if err := e.spawn(ctx, i); err != nil {
			if err := e.restart(ctx, i, err); err != nil {
				return err
			}
		}
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if !initialized && e.allReady() {
			initialized = true
			e.log.Debug().Msg("Workers ready")
			if e.hooks.OnClientsInitialized != nil {
				e.hooks.OnClientsInitialized()
			}
		}
		if initialized {
			done, err := e.dispatch(ctx)
			if err != nil {
				return err
			}
			if done {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			if err := e.handle(ctx, ev); err != nil {
				return err
			}
		case now := <-ticker.C:
			if err := e.checkDeadlines(ctx, now); err != nil {
				return err
			}
		}
	}

	if e.hooks.OnClientsFinalized != nil {
		e.hooks.OnClientsFinalized()
	}
	e.shutdown()
	return nil
}

func (e *engine) allReady() bool {
	for _, s := range e.slots {
		if !s.ready {
			return false
		}
	}
	return true
}

// dispatch offers work to every idle worker. The job is done when, after the
// pass, nothing is in flight, nothing is starting up, and every idle worker
// was refused.
func (e *engine) dispatch(ctx context.Context) (bool, error) {
	for i, s := range e.slots {
		if s.state != stateIdle {
			continue
		}
		item, ok := e.hooks.GetData(s.info.Host)
		if !ok {
			continue // parked
		}
		s.state = stateBusy
		s.item = item
		s.deadline = time.Now().Add(e.timeout)
		if err := s.conn.Send(Message{Kind: KindData, Item: &item}); err != nil {
			if err := e.fail(ctx, i, fmt.Errorf("failed to send item %d: %w", item.Index, err)); err != nil {
				return false, err
			}
		}
	}

	for _, s := range e.slots {
		if s.state != stateIdle {
			return false, nil
		}
	}
	return true, nil
}

func (e *engine) handle(ctx context.Context, ev event) error {
	s := e.slots[ev.slot]
	if ev.gen != s.gen {
		return nil // from a connection we already replaced
	}
	if ev.err != nil {
		return e.fail(ctx, ev.slot, fmt.Errorf("channel closed: %w", ev.err))
	}

	m := ev.msg
	switch m.Kind {
	case KindReady:
		if s.state == stateStarting {
			s.state = stateIdle
			s.ready = true
		}

	case KindResult:
		if s.state != stateBusy || m.Result == nil || m.Result.Index != s.item.Index {
			e.log.Warn().Str("worker", s.info.ID).Msg("Ignoring unexpected result")
			return nil
		}
		item := s.item
		s.state = stateIdle
		s.item = types.WorkItem{}
		e.hooks.OnResult(s.info.Host, item, *m.Result)

	case KindLog:
		lvl := zerolog.InfoLevel
		if m.Level == "error" {
			lvl = zerolog.ErrorLevel
		}
		e.log.WithLevel(lvl).Str("worker", s.info.ID).Msg(m.Text)

	case KindError:
		return e.fail(ctx, ev.slot, errors.New(m.Text))

	default:
		e.log.Warn().Str("worker", s.info.ID).Str("kind", string(m.Kind)).Msg("Ignoring unknown message")
	}
	return nil
}

func (e *engine) checkDeadlines(ctx context.Context, now time.Time) error {
	for i, s := range e.slots {
		switch {
		case s.state == stateBusy && now.After(s.deadline):
			if err := e.fail(ctx, i, fmt.Errorf("item %d exceeded %s", s.item.Index, e.timeout)); err != nil {
				return err
			}
		case s.state == stateStarting && now.After(s.deadline):
			if err := e.fail(ctx, i, fmt.Errorf("not ready after %s", e.startTimeout)); err != nil {
				return err
			}
		}
	}
	return nil
}

// fail hands back whatever the slot was working on and respawns it.
func (e *engine) fail(ctx context.Context, i int, cause error) error {
	s := e.slots[i]
	e.log.Warn().Err(cause).Str("worker", s.info.ID).Msg("Worker failed")
	if s.state == stateBusy {
		e.giveBack(s)
	}
	return e.restart(ctx, i, cause)
}

func (e *engine) giveBack(s *slot) {
	item := s.item
	s.item = types.WorkItem{}
	s.state = stateStarting

	e.attempts[item.Index]++
	n := e.attempts[item.Index]
	if e.maxItemAttempts > 0 && n >= e.maxItemAttempts {
		e.log.Error().Int("item", item.Index).Int("attempts", n).Msg("Giving up on item")
		e.hooks.OnResult(s.info.Host, item, types.Result{
			Index: item.Index,
			Err:   fmt.Sprintf("abandoned after %d attempts", n),
		})
		return
	}
	e.hooks.OnDataReturn(s.info.Host, item)
}

func (e *engine) restart(ctx context.Context, i int, cause error) error {
	s := e.slots[i]
	if s.conn != nil {
		_ = s.conn.Kill()
		if diag := strings.TrimSpace(s.conn.Diagnostics()); diag != "" {
			e.log.Warn().Str("worker", s.info.ID).Msg("Worker output:\n" + diag)
		}
		s.conn = nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.respawns++
		if s.respawns > e.maxRespawns {
			return fmt.Errorf("%w: worker %s failed %d times, last error: %v", ErrJobAborted, s.info.ID, s.respawns, cause)
		}
		e.log.Info().Str("worker", s.info.ID).Int("attempt", s.respawns).Msg("Respawning worker")
		err := e.spawn(ctx, i)
		if err == nil {
			return nil
		}
		cause = err
	}
}

func (e *engine) spawn(ctx context.Context, i int) error {
	s := e.slots[i]
	s.gen++
	s.state = stateStarting
	s.deadline = time.Now().Add(e.startTimeout)

	conn, err := e.spawner.Spawn(ctx, s.info.ID, e.client)
	if err != nil {
		return err
	}
	s.conn = conn
	go e.read(i, s.gen, conn)

	if err := conn.Send(Message{Kind: KindInit, ID: s.info.ID, Init: s.info.Init}); err != nil {
		// The reader reports the broken channel and the slot is respawned from there.
		e.log.Debug().Err(err).Str("worker", s.info.ID).Msg("Init not delivered")
	}
	return nil
}

// read pumps one connection into the event channel until it breaks.
func (e *engine) read(i, gen int, conn Conn) {
	for {
		m, err := conn.Recv()
		select {
		case e.events <- event{slot: i, gen: gen, msg: m, err: err}:
		case <-e.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// shutdown tells every worker to exit and joins them concurrently.
func (e *engine) shutdown() {
	g := new(errgroup.Group)
	for _, s := range e.slots {
		if s.conn == nil {
			continue
		}
		conn, id := s.conn, s.info.ID
		g.Go(func() error {
			_ = conn.Send(Message{Kind: KindExit})
			if err := conn.Close(); err != nil {
				return fmt.Errorf("worker %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.log.Warn().Err(err).Msg("Worker shutdown")
	}
}

func (e *engine) killAll() {
	for _, s := range e.slots {
		if s.conn != nil {
			_ = s.conn.Kill()
		}
	}
}
