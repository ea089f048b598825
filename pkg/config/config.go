package config

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/core/failfast"
)

// ErrRejected wraps every failed reload; the previous snapshot stays active
var ErrRejected = errors.New("configuration update rejected")

// Event announces a newly published snapshot
type Event struct {
	Snapshot *Snapshot
}

// Option configures a Config
type Option func(*Config)

// WithLimits overrides DefaultLimits
func WithLimits(l Limits) Option {
	return func(c *Config) { c.limits = l }
}

// WithLogger sets the logger used for corrections and rejected reloads
func WithLogger(l core.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Config is the live engine configuration.
// Readers always see a complete, normalized Snapshot.
type Config struct {
	source Source
	limits Limits
	logger core.Logger

	updateMu sync.Mutex
	version  uint64
	fallback error

	current atomic.Pointer[Snapshot]
	updated atomic.Bool

	subMu    sync.Mutex
	sub      chan Event
	notified uint64
}

// New loads the initial snapshot from source. When the source cannot be read
// the Config starts from DefaultRaw and Fallback reports the cause. Reloads
// stay enabled in that state, so a file that is created or repaired later
// replaces the defaults on the next UpdateConfig or Watch event.
func New(source Source, opts ...Option) (*Config, error) {
	failfast.NotNil(source, "source")

	c := &Config{
		source: source,
		limits: DefaultLimits(),
		logger: core.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.limits.Validate(); err != nil {
		return nil, &core.Error{Code: core.CodeInvalidConfig, Message: err.Error()}
	}

	draft, err := c.read()
	if err != nil {
		c.logger.Warn("config unreadable, using defaults", "path", source.Path(), "error", err)
		c.fallback = err
		draft, err = NewDraft(DefaultRaw(), c.limits)
		if err != nil {
			return nil, err
		}
		draft.NormalizeData()
	}

	c.version = 1
	c.current.Store(draft.snapshot(source.Path(), c.version))
	return c, nil
}

func (c *Config) read() (*Draft, error) {
	raw, err := c.source.Load()
	if err != nil {
		return nil, err
	}
	draft, err := NewDraft(raw, c.limits)
	if err != nil {
		return nil, err
	}
	if draft.NormalizeData() {
		fixed := draft.Corrections()
		c.logger.Info("config normalized",
			"operators", fixed.Operators, "queue", fixed.Queue, "bounds", fixed.Bounds)
	}
	return draft, nil
}

// UpdateConfig re-reads the source and publishes a new snapshot when the
// normalized values differ from the current ones.
func (c *Config) UpdateConfig() (bool, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	draft, err := c.read()
	if err != nil {
		c.logger.Warn("config reload rejected", "path", c.source.Path(), "error", err)
		return false, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	c.fallback = nil

	next := draft.snapshot(c.source.Path(), c.version+1)
	if next.SameValues(c.current.Load()) {
		return false, nil
	}
	c.version++
	c.current.Store(next)
	c.updated.Store(true)
	c.logger.Info("config updated", "version", next.Version,
		"operators", next.Operators, "queue", next.QueueSize, "rmin", next.Min, "rmax", next.Max)
	return true, nil
}

// UpdateWithRequest reloads and, on change, notifies the subscriber
func (c *Config) UpdateWithRequest() (bool, error) {
	changed, err := c.UpdateConfig()
	if err != nil {
		return false, err
	}
	if changed {
		c.Notify()
	}
	return changed, nil
}

// IsUpdated reports whether a snapshot was published since the last call
func (c *Config) IsUpdated() bool {
	return c.updated.Swap(false)
}

// Subscribe returns the channel receiving change events. Only one subscriber
// exists at a time; subscribing again closes the previous channel. Events
// coalesce, so a slow reader only sees the latest snapshot.
func (c *Config) Subscribe() <-chan Event {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.sub != nil {
		close(c.sub)
	}
	c.sub = make(chan Event, 1)
	c.notified = c.current.Load().Version
	return c.sub
}

// Unsubscribe closes the subscription channel, if any
func (c *Config) Unsubscribe() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.sub != nil {
		close(c.sub)
		c.sub = nil
	}
}

// Notify sends the current snapshot to the subscriber unless it was already
// sent. It never blocks.
func (c *Config) Notify() bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	snap := c.current.Load()
	if c.sub == nil || snap.Version == c.notified {
		return false
	}

	select {
	case <-c.sub:
	default:
	}
	c.sub <- Event{Snapshot: snap}
	c.notified = snap.Version
	return true
}

// Snapshot returns the current snapshot
func (c *Config) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Config) GetAmountOfOperators() int {
	return c.current.Load().Operators
}

func (c *Config) GetSizeOfQueue() int {
	return c.current.Load().QueueSize
}

// GetMinMax returns the inclusive operand bounds
func (c *Config) GetMinMax() (int, int) {
	s := c.current.Load()
	return s.Min, s.Max
}

func (c *Config) GetPath() string {
	return c.source.Path()
}

// Limits returns the limits normalization clamps into
func (c *Config) Limits() Limits {
	return c.limits
}

// Fallback returns the load error if the Config is still running on defaults
func (c *Config) Fallback() error {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()
	return c.fallback
}
