package web

import (
	"sync/atomic"
)

// BackpressureController caps the number of requests in flight.
// Requests over capacity are rejected immediately.
type BackpressureController struct {
	capacity int64
	inFlight atomic.Int64
	rejected atomic.Int64
}

// NewBackpressureController creates a controller; capacity <= 0 disables the cap
func NewBackpressureController(capacity int) *BackpressureController {
	return &BackpressureController{capacity: int64(capacity)}
}

// TryAcquire reserves a slot; false means the request should get 503
func (bc *BackpressureController) TryAcquire() bool {
	if bc.capacity <= 0 {
		bc.inFlight.Add(1)
		return true
	}
	for {
		cur := bc.inFlight.Load()
		if cur >= bc.capacity {
			bc.rejected.Add(1)
			return false
		}
		if bc.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees a slot taken by TryAcquire
func (bc *BackpressureController) Release() {
	bc.inFlight.Add(-1)
}

// Metrics returns current backpressure metrics
func (bc *BackpressureController) Metrics() BackpressureMetrics {
	cur := bc.inFlight.Load()
	m := BackpressureMetrics{
		Capacity: bc.capacity,
		InFlight: cur,
		Rejected: bc.rejected.Load(),
	}
	if bc.capacity > 0 {
		m.Utilization = float64(cur) / float64(bc.capacity) * 100
	}
	return m
}

// BackpressureMetrics provides backpressure statistics
type BackpressureMetrics struct {
	Capacity    int64   `json:"capacity"`
	InFlight    int64   `json:"in_flight"`
	Rejected    int64   `json:"rejected"`
	Utilization float64 `json:"utilization"`
}
