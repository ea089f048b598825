package web

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/manager"
	"github.com/fluxorio/callcenter/pkg/task"
)

// Engine is what the HTTP front needs from the call manager
type Engine interface {
	AddTask(ctx context.Context, in task.Input) (task.CallID, *task.Future, error)
	ReconfigureNow(ctx context.Context) (bool, error)
	Stats() manager.Stats
}

// DefaultCallTimeout covers the longest call the default limits allow
const DefaultCallTimeout = 150 * time.Second

// APIConfig configures the call center endpoints
type APIConfig struct {
	// CallTimeout bounds how long a request waits for its call; the call
	// itself keeps running and the response reports it as Awaiting
	CallTimeout time.Duration
	// Operand draws an operand in [min, max] when the request has none
	Operand func(min, max int) int
	// UpdateMiddleware guards /update, e.g. with JWT auth
	UpdateMiddleware []FastMiddleware
	Tracer           trace.Tracer
}

// CallAPI serves the call center endpoints
type CallAPI struct {
	engine  Engine
	logger  core.Logger
	timeout time.Duration
	operand func(min, max int) int
	updMW   []FastMiddleware
	tracer  trace.Tracer
}

// CallResponse is the JSON body of /call
type CallResponse struct {
	CallID          task.CallID `json:"call_id"`
	Number          string      `json:"number"`
	Status          task.Status `json:"status"`
	DurationSeconds float64     `json:"duration_seconds"`
	Operator        int         `json:"operator"`
	RequestID       string      `json:"request_id"`
	Error           string      `json:"error,omitempty"`
}

// NewCallAPI creates the endpoints over engine
func NewCallAPI(engine Engine, cfg APIConfig, logger core.Logger) *CallAPI {
	if logger == nil {
		logger = core.NopLogger()
	}
	a := &CallAPI{
		engine:  engine,
		logger:  logger,
		timeout: cfg.CallTimeout,
		operand: cfg.Operand,
		updMW:   cfg.UpdateMiddleware,
		tracer:  cfg.Tracer,
	}
	if a.timeout <= 0 {
		a.timeout = DefaultCallTimeout
	}
	if a.operand == nil {
		a.operand = randomOperand
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer("github.com/fluxorio/callcenter/pkg/web")
	}
	return a
}

// Register mounts the endpoints on r
func (a *CallAPI) Register(r *Router) {
	r.GET("/call", a.handleCall)
	r.GET("/phone=*", a.handlePhone)
	r.GET("/update", a.handleUpdate, a.updMW...)
	r.POST("/update", a.handleUpdate, a.updMW...)
	r.GET("/stats", a.handleStats)
	r.GET("/health", a.handleHealth)
}

// StatusCode maps a call status to its HTTP status
func StatusCode(s task.Status) int {
	switch s {
	case task.StatusCompleted:
		return fasthttp.StatusOK
	case task.StatusAwaiting:
		return fasthttp.StatusAccepted
	case task.StatusOverloaded:
		return fasthttp.StatusTooManyRequests
	case task.StatusRejected:
		return fasthttp.StatusNotAcceptable
	case task.StatusTimeout:
		return fasthttp.StatusRequestTimeout
	case task.StatusCancelled:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

func randomOperand(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.IntN(max-min+1)
}

// place submits a call and waits for its result. A nil result with an
// error means the call was never queued.
func (a *CallAPI) place(ctx *FastRequestContext, number string, operand int, hasOperand bool) (*task.Result, error) {
	goCtx, span := a.tracer.Start(ctx.Context(), "http.call",
		trace.WithAttributes(attribute.String("call.number", number)))
	defer span.End()

	if !hasOperand {
		snap := a.engine.Stats().Config
		operand = a.operand(snap.Min, snap.Max)
	}
	span.SetAttributes(attribute.Int("call.operand", operand))

	id, fut, err := a.engine.AddTask(goCtx, task.Input{Number: number, Operand: operand})
	if fut == nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("call.id", int64(id)))

	waitCtx, cancel := context.WithTimeout(goCtx, a.timeout)
	defer cancel()
	res, werr := fut.Wait(waitCtx)
	if werr != nil {
		a.logger.Warn("call still running after request timeout", "call_id", uint64(id), "timeout", a.timeout)
		res = task.Result{CallID: id, Number: number, Status: task.StatusAwaiting}
	}
	span.SetAttributes(attribute.String("call.status", res.Status.String()))
	return &res, nil
}

// submitError maps an error from AddTask for a call that was never queued
func submitError(err error) (int, task.Status) {
	switch {
	case errors.Is(err, task.ErrInvalidInput):
		return fasthttp.StatusBadRequest, task.StatusRejected
	case errors.Is(err, manager.ErrStopped):
		return fasthttp.StatusServiceUnavailable, task.StatusCancelled
	default:
		return fasthttp.StatusInternalServerError, task.StatusFailed
	}
}

func (a *CallAPI) handleCall(ctx *FastRequestContext) error {
	number := ctx.Query("number")
	operand, hasOperand, err := ctx.QueryInt("duration")
	if err != nil {
		return ctx.JSON(fasthttp.StatusBadRequest, CallResponse{
			Number:    number,
			Status:    task.StatusRejected,
			RequestID: ctx.RequestID(),
			Error:     err.Error(),
		})
	}

	res, err := a.place(ctx, number, operand, hasOperand)
	if res == nil {
		code, status := submitError(err)
		return ctx.JSON(code, CallResponse{
			Number:    number,
			Status:    status,
			RequestID: ctx.RequestID(),
			Error:     err.Error(),
		})
	}

	resp := CallResponse{
		CallID:          res.CallID,
		Number:          res.Number,
		Status:          res.Status,
		DurationSeconds: res.Duration.Seconds(),
		Operator:        res.Operator,
		RequestID:       ctx.RequestID(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return ctx.JSON(StatusCode(res.Status), resp)
}

// handlePhone serves the plain text /phone=<number> form
func (a *CallAPI) handlePhone(ctx *FastRequestContext) error {
	number := ctx.Param("*")
	res, err := a.place(ctx, number, 0, false)
	if res == nil {
		code, status := submitError(err)
		return ctx.Text(code, fmt.Sprintf("Status: %s\n%s\n", status, err))
	}
	body := "CallID: " + strconv.FormatUint(uint64(res.CallID), 10) +
		" call duration: " + strconv.FormatInt(int64(res.Duration/time.Second), 10) + "s" +
		"\n Status: " + res.Status.String() + "\n"
	return ctx.Text(StatusCode(res.Status), body)
}

func (a *CallAPI) handleUpdate(ctx *FastRequestContext) error {
	changed, err := a.engine.ReconfigureNow(ctx.Context())
	if err != nil {
		a.logger.Warn("update request failed", "error", err, "request_id", ctx.RequestID())
	}
	if err != nil || !changed {
		return ctx.Text(fasthttp.StatusForbidden, "Could not update")
	}
	return ctx.Text(fasthttp.StatusOK, "Updated")
}

func (a *CallAPI) handleStats(ctx *FastRequestContext) error {
	return ctx.JSON(fasthttp.StatusOK, a.engine.Stats())
}

func (a *CallAPI) handleHealth(ctx *FastRequestContext) error {
	state := a.engine.Stats().State
	code := fasthttp.StatusOK
	if state != manager.StateRunning && state != manager.StateReconfiguring {
		code = fasthttp.StatusServiceUnavailable
	}
	return ctx.JSON(code, map[string]interface{}{"state": state})
}
