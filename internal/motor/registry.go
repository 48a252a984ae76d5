package motor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/adapter"
	"github.com/monitor-car/mcc/internal/kinematics"
)

// DefaultPorts is the channel alphabet when none is configured.
var DefaultPorts = []string{"A", "B", "C", "D"}

var (
	ErrAlreadyClaimed = errors.New("ALREADY_CLAIMED")
	ErrInvalidPort    = errors.New("INVALID_PORT")
	ErrNotClaimed     = errors.New("NOT_CLAIMED")
)

// NotClaimedError names the first port of a lookup that has no live handle.
type NotClaimedError struct {
	Port string
}

func (e *NotClaimedError) Error() string {
	return fmt.Sprintf("channel %s not claimed", e.Port)
}

func (e *NotClaimedError) Unwrap() error {
	return ErrNotClaimed
}

// Info is a snapshot of one claimed channel.
type Info struct {
	Port          string    `json:"port"`
	Circumference float64   `json:"wheelCircumference"`
	Model         string    `json:"model,omitempty"`
	ClaimedAt     time.Time `json:"claimedAt"`
	Running       bool      `json:"running"`
	TaskID        string    `json:"taskId,omitempty"`
}

// Registry maps ports to live handles. Claim, release and lookup are
// serialized; motion through the handles is not.
type Registry struct {
	mu      sync.RWMutex
	driver  adapter.Driver
	allowed map[string]bool
	handles map[string]*Handle

	family      string
	stopTimeout time.Duration
	logger      *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithErrorFamily selects the hardware error token table.
func WithErrorFamily(family string) Option {
	return func(r *Registry) { r.family = family }
}

// WithStopTimeout bounds the stop issued when a handle is released.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Registry) { r.stopTimeout = d }
}

// NewRegistry creates a registry over driver for the given ports.
// An empty port list uses DefaultPorts.
func NewRegistry(driver adapter.Driver, ports []string, opts ...Option) *Registry {
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	r := &Registry{
		driver:      driver,
		allowed:     make(map[string]bool, len(ports)),
		handles:     make(map[string]*Handle),
		family:      "generic",
		stopTimeout: 2 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, p := range ports {
		r.allowed[p] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Claim opens the hardware for port and records a live handle.
// A port may have at most one live handle.
func (r *Registry) Claim(ctx context.Context, port string, circumference float64) (*Handle, error) {
	if circumference <= 0 {
		return nil, fmt.Errorf("%w: %v", kinematics.ErrInvalidCircumference, circumference)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.allowed[port] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPort, port)
	}
	if _, exists := r.handles[port]; exists {
		return nil, fmt.Errorf("%w: port %s", ErrAlreadyClaimed, port)
	}

	hw, err := r.driver.Open(ctx, port)
	if err != nil {
		return nil, adapter.NormalizeHardwareErrorWithFamily(port, "Open", err, r.family)
	}

	h := &Handle{
		port:          port,
		circumference: circumference,
		hw:            hw,
		registry:      r,
		family:        r.family,
		claimedAt:     time.Now(),
	}
	r.handles[port] = h

	r.logger.Info("motor claimed", zap.String("port", port), zap.Float64("wheelCircumference", circumference))
	return h, nil
}

// Release releases the handle on port. Releasing an unclaimed port is a no-op.
func (r *Registry) Release(port string) error {
	r.mu.RLock()
	h, ok := r.handles[port]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return h.Close()
}

// ReleaseAll releases every live handle. It never stops early; per-handle
// errors are joined into the result.
func (r *Registry) ReleaseAll() error {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	var errs []error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the live handle on port.
func (r *Registry) Get(port string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[port]
	return h, ok
}

// Lookup returns the handles for ports in order. It fails with a
// NotClaimedError naming the first port without a live handle.
func (r *Registry) Lookup(ports ...string) ([]*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]*Handle, 0, len(ports))
	for _, p := range ports {
		h, ok := r.handles[p]
		if !ok {
			return nil, &NotClaimedError{Port: p}
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// WithHandle claims port, runs fn and releases the claim on every exit
// path, including panics.
func (r *Registry) WithHandle(ctx context.Context, port string, circumference float64, fn func(*Handle) error) (err error) {
	h, err := r.Claim(ctx, port, circumference)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(h)
}

// Ports returns the claimed ports, sorted.
func (r *Registry) Ports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ports := make([]string, 0, len(r.handles))
	for p := range r.handles {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}

// Allowed reports whether port belongs to the configured alphabet.
func (r *Registry) Allowed(port string) bool {
	return r.allowed[port]
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// List returns a snapshot of every claimed channel, sorted by port.
func (r *Registry) List() []Info {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Port < infos[j].Port })
	return infos
}

// release drops h from the map and quiesces its hardware.
func (r *Registry) release(h *Handle) error {
	r.mu.Lock()
	if cur, ok := r.handles[h.port]; ok && cur == h {
		delete(r.handles, h.port)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)
	defer cancel()

	// A Start still in flight must land before the Stop below.
	if task := h.detach(); task != nil {
		task.Cancel()
		select {
		case <-task.Done():
		case <-ctx.Done():
			r.logger.Warn("run-forever task did not finish before stop", zap.String("port", h.port))
		}
	}

	var errs []error
	if err := h.hw.Stop(ctx); err != nil {
		errs = append(errs, h.normalize("Stop", err))
	}
	if closer, ok := h.hw.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, h.normalize("Close", err))
		}
	}

	r.logger.Info("motor released", zap.String("port", h.port))
	return errors.Join(errs...)
}
