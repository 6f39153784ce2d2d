// Package dispatch runs one worker goroutine per drone. The worker is the
// only mutator of its drone: command submission, execution, telemetry
// ingestion and the safety checks derived from telemetry are all
// serialized through its mailbox.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"droneops-fleet/internal/battery"
	"droneops-fleet/internal/command"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/geofence"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

var (
	ErrWorkerFailed    = errors.New("drone worker failed")
	ErrWorkerRunning   = errors.New("drone worker still running")
	ErrStopped         = errors.New("dispatcher stopped")
	ErrQueueEmpty      = errors.New("command queue empty")
	ErrCommandDeferred = errors.New("next command waits for takeoff to complete")
)

// Config tunes the dispatcher.
type Config struct {
	QueueCapacity   int
	MailboxCapacity int
	// AutoExecute drains the queue after every worker step. When false
	// only safety directives run on their own and everything else waits
	// for Execute.
	AutoExecute bool
	HistorySize int

	// LinkLossTimeout forces an emergency landing when an airborne drone
	// stays silent this long. Zero disables the watchdog.
	LinkLossTimeout time.Duration
	// ArrivalTolerance is the horizontal radius (m) that counts as reaching
	// a target; AltitudeTolerance the vertical one.
	ArrivalTolerance  float64
	AltitudeTolerance float64
	// GroundAltitude is the altitude at or below which a landing completes.
	GroundAltitude float64
	// ReturnAltitude is the cruise altitude of a return to home.
	ReturnAltitude float64
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     command.DefaultQueueCapacity,
		MailboxCapacity:   64,
		AutoExecute:       true,
		HistorySize:       256,
		LinkLossTimeout:   10 * time.Second,
		ArrivalTolerance:  5,
		AltitudeTolerance: 1,
		GroundAltitude:    0.5,
		ReturnAltitude:    30,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// Executed is the payload of a command_executed event.
type Executed struct {
	Command command.Command `json:"command"`
	Drone   registry.Drone  `json:"drone"`
}

// SafetyOverride is the payload of emergency_landing and
// low_battery_warning events.
type SafetyOverride struct {
	Directive string         `json:"directive"`
	Source    command.Source `json:"source"`
	Reason    string         `json:"reason"`
	CommandID string         `json:"command_id,omitempty"`
	Battery   float64        `json:"battery_pct"`
}

// Dispatcher owns the per-drone workers.
type Dispatcher struct {
	reg     *registry.Registry
	fence   *geofence.Engine
	battery *battery.Monitor
	hub     *hub.Hub
	sink    flightlog.Sink
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	workers map[string]*worker
	wg      sync.WaitGroup
}

// New wires a dispatcher. A nil sink discards flight log entries.
func New(reg *registry.Registry, fence *geofence.Engine, mon *battery.Monitor, h *hub.Hub, sink flightlog.Sink, cfg Config, opts ...Option) *Dispatcher {
	if sink == nil {
		sink = flightlog.Discard{}
	}
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = 1
	}
	d := &Dispatcher{
		reg:     reg,
		fence:   fence,
		battery: mon,
		hub:     h,
		sink:    sink,
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default(),
		workers: make(map[string]*worker),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// AddObserver registers an observer for every drone.
func (d *Dispatcher) AddObserver(o Observer) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) observerList() []Observer {
	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	return append([]Observer(nil), d.observers...)
}

// Start launches a worker for every registered drone. Drones registered
// later get a worker on first use.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	for _, id := range d.reg.IDs() {
		d.spawnLocked(id, nil)
	}
	d.logger.Info("dispatcher started", "drones", len(d.workers))
}

// Stop cancels all workers and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) spawnLocked(id string, hist *history) *worker {
	if hist == nil {
		hist = newHistory(d.cfg.HistorySize)
	}
	w := &worker{
		d:             d,
		id:            id,
		jobs:          make(chan job, d.cfg.MailboxCapacity),
		done:          make(chan struct{}),
		queue:         command.NewQueue(d.cfg.QueueCapacity),
		hist:          hist,
		lastTelemetry: d.now(),
	}
	d.workers[id] = w
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		w.run(d.ctx)
	}()
	return w
}

func (d *Dispatcher) worker(id string) (*worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil || d.ctx.Err() != nil {
		return nil, ErrStopped
	}
	if w, ok := d.workers[id]; ok {
		return w, nil
	}
	if _, err := d.reg.Get(id); err != nil {
		return nil, fmt.Errorf("%w: %w", command.ErrUnknownDrone, err)
	}
	return d.spawnLocked(id, nil), nil
}

// do runs fn on the drone's worker and waits for its result.
func (d *Dispatcher) do(ctx context.Context, id string, fn func(*worker) error) error {
	w, err := d.worker(id)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case w.jobs <- job{fn: fn, reply: reply}:
	case <-w.done:
		return w.failure()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-w.done:
		select {
		case err := <-reply:
			return err
		default:
			return w.failure()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates and queues a command. The returned command carries the
// final submission status; on rejection its Reason is set and err says why.
func (d *Dispatcher) Submit(ctx context.Context, droneID string, a command.Action, p command.Priority, src command.Source) (command.Command, error) {
	c := command.New(droneID, a, p, src, d.now())
	if a == nil {
		err := &command.ValidationError{Field: "command_kind", Msg: "missing action"}
		return c.Rejected(command.Reason(err)), err
	}
	out := c
	err := d.do(ctx, droneID, func(w *worker) error {
		var err error
		out, err = w.submit(c)
		return err
	})
	if err != nil && out.Status != command.StatusRejected {
		out = c.Rejected(command.Reason(err))
	}
	return out, err
}

// IngestTelemetry applies a frame and runs the safety checks inline.
func (d *Dispatcher) IngestTelemetry(ctx context.Context, droneID string, f telemetry.Frame) error {
	f.DroneID = droneID
	return d.do(ctx, droneID, func(w *worker) error { return w.ingest(f) })
}

// Execute pops and executes the next command of a drone. It is the only
// way non-safety commands run when AutoExecute is off.
func (d *Dispatcher) Execute(ctx context.Context, droneID string) (command.Command, error) {
	var out command.Command
	err := d.do(ctx, droneID, func(w *worker) error {
		var err error
		out, err = w.executeNext()
		return err
	})
	return out, err
}

// CheckLinkLoss runs the link-loss watchdog on every drone.
func (d *Dispatcher) CheckLinkLoss(ctx context.Context) {
	for _, id := range d.reg.IDs() {
		if err := d.do(ctx, id, func(w *worker) error { w.checkLinkLoss(); return nil }); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				return
			}
			d.logger.Warn("link loss check skipped", "drone_id", id, "err", err)
		}
	}
}

// Queued returns the drone's queue in execution order.
func (d *Dispatcher) Queued(ctx context.Context, droneID string) ([]command.Command, error) {
	var out []command.Command
	err := d.do(ctx, droneID, func(w *worker) error {
		out = w.queue.Items()
		return nil
	})
	return out, err
}

// Command looks up a recent command of a drone by id.
func (d *Dispatcher) Command(droneID, id string) (command.Command, bool) {
	d.mu.Lock()
	w, ok := d.workers[droneID]
	d.mu.Unlock()
	if !ok {
		return command.Command{}, false
	}
	return w.hist.get(id)
}

// History returns the drone's recent commands, oldest first.
func (d *Dispatcher) History(droneID string) []command.Command {
	d.mu.Lock()
	w, ok := d.workers[droneID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return w.hist.list()
}

// Failed reports whether the drone's worker died.
func (d *Dispatcher) Failed(droneID string) bool {
	d.mu.Lock()
	w, ok := d.workers[droneID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-w.done:
		return w.failure() != nil && !errors.Is(w.failure(), ErrStopped)
	default:
		return false
	}
}

// Restart replaces a failed worker. Commands that were queued on the
// failed worker are rejected on the new one; history is kept.
func (d *Dispatcher) Restart(droneID string) error {
	d.mu.Lock()
	if d.ctx == nil || d.ctx.Err() != nil {
		d.mu.Unlock()
		return ErrStopped
	}
	old, ok := d.workers[droneID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", command.ErrUnknownDrone, droneID)
	}
	select {
	case <-old.done:
	default:
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerRunning, droneID)
	}
	lost := old.queue.Items()
	d.spawnLocked(droneID, old.hist)
	ctx := d.ctx
	d.mu.Unlock()

	err := d.do(ctx, droneID, func(w *worker) error {
		drone, err := d.reg.Get(droneID)
		if err != nil {
			return err
		}
		w.log(drone, flightlog.EventWorkerRestarted, map[string]any{"dropped_commands": len(lost)})
		for _, c := range lost {
			w.rejected(c.Rejected(command.ReasonWorkerFailed), drone)
		}
		return nil
	})
	d.logger.Info("drone worker restarted", "drone_id", droneID, "dropped_commands", len(lost))
	return err
}

// Arm sets the armed flag on the drone's worker.
func (d *Dispatcher) Arm(ctx context.Context, droneID string) (registry.Drone, error) {
	var out registry.Drone
	err := d.do(ctx, droneID, func(w *worker) error {
		var err error
		out, err = d.reg.Arm(droneID)
		return err
	})
	return out, err
}

// Disarm clears the armed flag. It fails while the drone is airborne.
func (d *Dispatcher) Disarm(ctx context.Context, droneID string) (registry.Drone, error) {
	var out registry.Drone
	err := d.do(ctx, droneID, func(w *worker) error {
		var err error
		out, err = d.reg.Disarm(droneID)
		return err
	})
	return out, err
}
