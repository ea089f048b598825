package core

import (
	"sync"
)

// BaseRequestContext stores per-request values shared between middleware
// and handlers. It is safe for concurrent use.
type BaseRequestContext struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewBaseRequestContext creates an empty BaseRequestContext
func NewBaseRequestContext() *BaseRequestContext {
	return &BaseRequestContext{}
}

// Set stores a value under key
func (brc *BaseRequestContext) Set(key string, value interface{}) {
	brc.mu.Lock()
	defer brc.mu.Unlock()
	if brc.data == nil {
		brc.data = make(map[string]interface{})
	}
	brc.data[key] = value
}

// Get returns the value stored under key, or nil
func (brc *BaseRequestContext) Get(key string) interface{} {
	brc.mu.RLock()
	defer brc.mu.RUnlock()
	return brc.data[key]
}
