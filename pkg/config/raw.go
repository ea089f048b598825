package config

import (
	"fmt"
)

// Raw is the engine configuration document as stored on disk.
// Fields are pointers so a key missing from the file can be told apart from zero.
type Raw struct {
	AmountOfOperators *int `json:"AmountOfOperators" yaml:"amount_of_operators"`
	SizeOfQueue       *int `json:"SizeOfQueue" yaml:"size_of_queue"`
	RMin              *int `json:"RMin" yaml:"rmin"`
	RMax              *int `json:"RMax" yaml:"rmax"`
}

// DefaultRaw returns the document used when the initial source cannot be read
func DefaultRaw() Raw {
	return Raw{
		AmountOfOperators: intPtr(2),
		SizeOfQueue:       intPtr(15),
		RMin:              intPtr(10),
		RMax:              intPtr(15),
	}
}

// Range is an inclusive integer interval
type Range struct {
	Min int
	Max int
}

func (r Range) clamp(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Limits bounds every field of a Draft
type Limits struct {
	Operators Range
	Queue     Range
	RMin      Range
	RMax      Range
}

// DefaultLimits returns the limits applied by New unless overridden
func DefaultLimits() Limits {
	return Limits{
		Operators: Range{Min: 1, Max: 80},
		Queue:     Range{Min: 1, Max: 350},
		RMin:      Range{Min: 0, Max: 100},
		RMax:      Range{Min: 0, Max: 140},
	}
}

// Validate rejects limits that cannot produce a usable snapshot
func (l Limits) Validate() error {
	if l.Operators.Min < 1 || l.Queue.Min < 1 {
		return fmt.Errorf("operators and queue limits must start at 1 or more")
	}
	for name, r := range map[string]Range{
		"operators": l.Operators, "queue": l.Queue, "rmin": l.RMin, "rmax": l.RMax,
	} {
		if r.Min > r.Max {
			return fmt.Errorf("%s limit is inverted: [%d, %d]", name, r.Min, r.Max)
		}
	}
	return nil
}

// Corrections lists what normalization had to repair
type Corrections struct {
	Operators bool
	Queue     bool
	Bounds    bool
}

// Any reports whether at least one field was corrected
func (c Corrections) Any() bool {
	return c.Operators || c.Queue || c.Bounds
}

// Draft is a mutable, not yet published set of values
type Draft struct {
	Operators int
	QueueSize int
	Min       int
	Max       int

	limits      Limits
	corrections Corrections
}

// NewDraft checks that every field is present and copies the values out of raw
func NewDraft(raw Raw, limits Limits) (*Draft, error) {
	if err := Validate(&raw, RequiredFields("AmountOfOperators", "SizeOfQueue", "RMin", "RMax")); err != nil {
		return nil, err
	}
	return &Draft{
		Operators: *raw.AmountOfOperators,
		QueueSize: *raw.SizeOfQueue,
		Min:       *raw.RMin,
		Max:       *raw.RMax,
		limits:    limits,
	}, nil
}

// NormalizeAmountOfOperators clamps the worker count and reports whether it changed
func (d *Draft) NormalizeAmountOfOperators() bool {
	v := d.limits.Operators.clamp(d.Operators)
	if v == d.Operators {
		return false
	}
	d.Operators = v
	d.corrections.Operators = true
	return true
}

// NormalizeSizeOfQueue clamps the queue capacity and reports whether it changed
func (d *Draft) NormalizeSizeOfQueue() bool {
	v := d.limits.Queue.clamp(d.QueueSize)
	if v == d.QueueSize {
		return false
	}
	d.QueueSize = v
	d.corrections.Queue = true
	return true
}

// NormalizeRMinRMax swaps inverted bounds, then clamps each into its limit.
// Min never ends above Max.
func (d *Draft) NormalizeRMinRMax() bool {
	min, max := d.Min, d.Max
	if min > max {
		min, max = max, min
	}
	min = d.limits.RMin.clamp(min)
	max = d.limits.RMax.clamp(max)
	if min > max {
		min = max
	}
	if min == d.Min && max == d.Max {
		return false
	}
	d.Min, d.Max = min, max
	d.corrections.Bounds = true
	return true
}

// NormalizeData runs every normalization and reports whether anything changed
func (d *Draft) NormalizeData() bool {
	bounds := d.NormalizeRMinRMax()
	ops := d.NormalizeAmountOfOperators()
	queue := d.NormalizeSizeOfQueue()
	return bounds || ops || queue
}

// Corrections returns the repairs applied so far
func (d *Draft) Corrections() Corrections {
	return d.corrections
}

func (d *Draft) snapshot(path string, version uint64) *Snapshot {
	return &Snapshot{
		Operators: d.Operators,
		QueueSize: d.QueueSize,
		Min:       d.Min,
		Max:       d.Max,
		Path:      path,
		Version:   version,
	}
}

// Snapshot is an immutable, normalized configuration
type Snapshot struct {
	Operators int    `json:"operators"`
	QueueSize int    `json:"queue_size"`
	Min       int    `json:"rmin"`
	Max       int    `json:"rmax"`
	Path      string `json:"path"`
	Version   uint64 `json:"version"`
}

// SameValues compares the tunable fields, ignoring path and version
func (s *Snapshot) SameValues(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Operators == o.Operators && s.QueueSize == o.QueueSize && s.Min == o.Min && s.Max == o.Max
}

// Raw converts the snapshot back to a document, e.g. to write a starter file
func (s *Snapshot) Raw() Raw {
	return Raw{
		AmountOfOperators: intPtr(s.Operators),
		SizeOfQueue:       intPtr(s.QueueSize),
		RMin:              intPtr(s.Min),
		RMax:              intPtr(s.Max),
	}
}

func intPtr(v int) *int {
	return &v
}
