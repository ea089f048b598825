package otel_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/observability/otel"
	"github.com/fluxorio/callcenter/pkg/web"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     otel.Config
		wantErr bool
	}{
		{"stdout", otel.Config{ServiceName: "callcenter", Exporter: "stdout", SampleRate: 1}, false},
		{"none", otel.Config{ServiceName: "callcenter", Exporter: "none"}, false},
		{"zipkin", otel.Config{ServiceName: "callcenter", Exporter: "zipkin", Endpoint: "http://localhost:9411/api/v2/spans"}, false},
		{"zipkin without endpoint", otel.Config{ServiceName: "callcenter", Exporter: "zipkin"}, true},
		{"jaeger without endpoint", otel.Config{ServiceName: "callcenter", Exporter: "jaeger"}, true},
		{"unknown exporter", otel.Config{ServiceName: "callcenter", Exporter: "otlp"}, true},
		{"missing service", otel.Config{Exporter: "stdout"}, true},
		{"rate above one", otel.Config{ServiceName: "callcenter", SampleRate: 1.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var ce *core.Error
			if err != nil && (!errors.As(err, &ce) || ce.Code != core.CodeInvalidConfig) {
				t.Errorf("Validate() error = %v, want core.Error with CodeInvalidConfig", err)
			}
		})
	}
}

func TestInitialize_Stdout(t *testing.T) {
	var buf bytes.Buffer
	err := otel.Initialize(context.Background(), otel.Config{
		ServiceName: "callcenter", ServiceVersion: "test", Exporter: "stdout", SampleRate: 1, Writer: &buf,
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !otel.IsInitialized() {
		t.Error("IsInitialized() = false, want true")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "call.handle")
	span.End()

	if err := otel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if otel.IsInitialized() {
		t.Error("IsInitialized() after Shutdown = true, want false")
	}
	if !strings.Contains(buf.String(), `"call.handle"`) {
		t.Errorf("stdout exporter output missing span name: %s", buf.String())
	}
	if err := otel.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestInitialize_RemoteExporters(t *testing.T) {
	for _, exp := range []string{"zipkin", "jaeger"} {
		err := otel.Initialize(context.Background(), otel.Config{
			ServiceName: "callcenter", Exporter: exp, Endpoint: "http://127.0.0.1:1/spans",
		})
		if err != nil {
			t.Errorf("Initialize(%s) error = %v", exp, err)
		}
	}
	if err := otel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	if err := otel.Initialize(context.Background(), otel.Config{
		ServiceName: "callcenter", SampleRate: 1, SpanExporter: exp,
	}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer otel.Shutdown(context.Background())

	var serverSpan trace.SpanContext
	router := web.NewRouter()
	router.Use(otel.HTTPMiddleware())
	router.GET("/call", func(ctx *web.FastRequestContext) error {
		serverSpan = otel.SpanFromRequest(ctx).SpanContext()
		_, child := otel.Tracer("test").Start(ctx.Context(), "manager.add_task")
		child.End()
		return ctx.Text(200, "ok")
	})
	router.GET("/broken", func(ctx *web.FastRequestContext) error {
		return ctx.Text(500, "broken")
	})

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: func(rc *fasthttp.RequestCtx) {
		router.ServeFastHTTP(web.NewFastRequestContext(rc))
	}}
	go srv.Serve(ln)
	defer srv.Shutdown()
	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://test/call")
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	if err := client.Do(req, resp); err != nil {
		t.Fatalf("GET /call failed: %v", err)
	}
	if _, _, err := client.Get(nil, "http://test/broken"); err != nil {
		t.Fatalf("GET /broken failed: %v", err)
	}

	if err := otel.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("exported %d spans, want 3", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}

	call, ok := byName["GET /call"]
	if !ok {
		t.Fatalf("missing server span, got %v", spans)
	}
	if got := call.SpanContext.TraceID().String(); got != traceID {
		t.Errorf("server span trace id = %s, want %s", got, traceID)
	}
	if call.SpanKind != trace.SpanKindServer {
		t.Errorf("server span kind = %v, want %v", call.SpanKind, trace.SpanKindServer)
	}
	if call.SpanContext.SpanID() != serverSpan.SpanID() {
		t.Error("SpanFromRequest() did not return the server span")
	}

	child := byName["manager.add_task"]
	if child.Parent.SpanID() != call.SpanContext.SpanID() {
		t.Errorf("child parent = %s, want %s", child.Parent.SpanID(), call.SpanContext.SpanID())
	}

	if broken := byName["GET /broken"]; broken.Status.Code != codes.Error {
		t.Errorf("5xx span status = %v, want %v", broken.Status.Code, codes.Error)
	}
}
