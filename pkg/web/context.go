package web

import (
	"context"
	"fmt"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/callcenter/pkg/core"
)

// FastRequestHandler handles fasthttp requests
type FastRequestHandler func(ctx *FastRequestContext) error

// FastMiddleware is middleware for fasthttp
type FastMiddleware func(handler FastRequestHandler) FastRequestHandler

// FastRequestContext wraps fasthttp RequestCtx with per-request values
type FastRequestContext struct {
	*core.BaseRequestContext
	RequestCtx *fasthttp.RequestCtx
	Params     map[string]string
	requestID  string
	ctx        context.Context
}

// NewFastRequestContext wraps rc. The request ID is taken from the
// X-Request-ID header or generated.
func NewFastRequestContext(rc *fasthttp.RequestCtx) *FastRequestContext {
	id := core.RequestIDOrNew(string(rc.Request.Header.Peek(core.RequestIDHeader)))
	rc.Response.Header.Set(core.RequestIDHeader, id)
	return &FastRequestContext{
		BaseRequestContext: core.NewBaseRequestContext(),
		RequestCtx:         rc,
		Params:             make(map[string]string),
		requestID:          id,
	}
}

// JSON writes a JSON response
func (c *FastRequestContext) JSON(statusCode int, data interface{}) error {
	if statusCode < 100 || statusCode > 599 {
		return fmt.Errorf("invalid status code: %d", statusCode)
	}

	jsonData, err := core.JSONEncode(data)
	if err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}

	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("application/json")
	c.RequestCtx.Write(jsonData)
	return nil
}

// Text writes a plain text response
func (c *FastRequestContext) Text(statusCode int, text string) error {
	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("text/plain; charset=utf-8")
	c.RequestCtx.WriteString(text)
	return nil
}

// Query returns a query parameter value
func (c *FastRequestContext) Query(key string) string {
	return string(c.RequestCtx.QueryArgs().Peek(key))
}

// QueryInt returns an integer query parameter. ok is false when the
// parameter is absent; a malformed value is an error.
func (c *FastRequestContext) QueryInt(key string) (v int, ok bool, err error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, false, nil
	}
	v, err = strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("query parameter %s: %w", key, err)
	}
	return v, true, nil
}

// Param returns a path parameter value
func (c *FastRequestContext) Param(key string) string {
	return c.Params[key]
}

func (c *FastRequestContext) Method() []byte {
	return c.RequestCtx.Method()
}

func (c *FastRequestContext) Path() []byte {
	return c.RequestCtx.Path()
}

// Error writes an error response
func (c *FastRequestContext) Error(msg string, statusCode int) {
	c.RequestCtx.Error(msg, statusCode)
}

// RequestID returns the request ID for this request
func (c *FastRequestContext) RequestID() string {
	return c.requestID
}

// Context returns a context carrying the request ID
func (c *FastRequestContext) Context() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	ctx := context.Background()
	if c.requestID != "" {
		ctx = core.WithRequestID(ctx, c.requestID)
	}
	return ctx
}

// SetContext replaces the context returned by Context for the rest of
// the request
func (c *FastRequestContext) SetContext(ctx context.Context) {
	c.ctx = ctx
}
