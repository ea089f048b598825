package otel

import (
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/callcenter/pkg/web"
)

const spanKey = "otel.span"

// headerCarrier adapts fasthttp request headers to a TextMapCarrier
type headerCarrier struct {
	h *fasthttp.RequestHeader
}

func (c headerCarrier) Get(key string) string { return string(c.h.Peek(key)) }

func (c headerCarrier) Set(key, value string) { c.h.Set(key, value) }

func (c headerCarrier) Keys() []string {
	var keys []string
	c.h.VisitAll(func(k, _ []byte) {
		keys = append(keys, string(k))
	})
	return keys
}

// HTTPMiddleware starts a server span per request, continuing any trace
// carried in the request headers
func HTTPMiddleware() web.FastMiddleware {
	tracer := otel.Tracer("github.com/fluxorio/callcenter/pkg/observability/otel")
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			parent := otel.GetTextMapPropagator().Extract(ctx.Context(), headerCarrier{&ctx.RequestCtx.Request.Header})
			method := string(ctx.Method())
			path := string(ctx.Path())

			spanCtx, span := tracer.Start(parent, method+" "+path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", method),
					attribute.String("url.path", path),
					attribute.String("request.id", ctx.RequestID()),
				))
			defer span.End()
			ctx.Set(spanKey, span)
			ctx.SetContext(spanCtx)

			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else if status >= 500 {
				span.SetStatus(codes.Error, fasthttp.StatusMessage(status))
			}
			return err
		}
	}
}

// SpanFromRequest returns the span HTTPMiddleware started for ctx
func SpanFromRequest(ctx *web.FastRequestContext) trace.Span {
	if span, ok := ctx.Get(spanKey).(trace.Span); ok {
		return span
	}
	return trace.SpanFromContext(ctx.Context())
}
