package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/fluxorio/callcenter/pkg/config"
	"github.com/fluxorio/callcenter/pkg/manager"
	"github.com/fluxorio/callcenter/pkg/task"
	"github.com/fluxorio/callcenter/pkg/web"
)

func raw(ops, queue, min, max int) config.Raw {
	return config.Raw{AmountOfOperators: &ops, SizeOfQueue: &queue, RMin: &min, RMax: &max}
}

// handler completes instantly unless the number is "hold", which blocks
// until release is closed, or "fail"
type handler struct {
	release chan struct{}
}

func (h *handler) Handle(ctx context.Context, tk *task.Task) (task.Result, error) {
	switch tk.Number() {
	case "hold":
		<-h.release
	case "fail":
		return task.Result{}, errors.New("line dropped")
	}
	return task.Result{Status: task.StatusCompleted, Duration: time.Duration(tk.Operand()) * time.Second, AnsweredAt: time.Now()}, nil
}

type fixture struct {
	t       *testing.T
	src     *config.MemorySource
	mgr     *manager.Manager
	client  *fasthttp.Client
	handler *handler
}

func newFixture(t *testing.T, r config.Raw, apiCfg web.APIConfig) *fixture {
	t.Helper()
	src := config.NewMemorySource(r)
	cfg, err := config.New(src)
	if err != nil {
		t.Fatalf("config.New() error = %v", err)
	}
	h := &handler{release: make(chan struct{})}
	mgr, err := manager.New(cfg, manager.WithHandler(h))
	if err != nil {
		t.Fatalf("manager.New() error = %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	srv, err := web.NewServer(web.DefaultServerConfig(":0"), nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	web.NewCallAPI(mgr, apiCfg, nil).Register(srv.Router())

	ln := fasthttputil.NewInmemoryListener()
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ln)
		close(done)
	}()

	f := &fixture{
		t:       t,
		src:     src,
		mgr:     mgr,
		handler: h,
		client:  &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }},
	}
	t.Cleanup(func() {
		select {
		case <-h.release:
		default:
			close(h.release)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Stop(ctx)
		_ = ln.Close()
		_ = srv.Shutdown(ctx)
		<-done
	})
	return f
}

func (f *fixture) do(method, path string) (int, []byte) {
	f.t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := &fasthttp.Response{}

	req.Header.SetMethod(method)
	req.SetRequestURI("http://test" + path)
	if err := f.client.Do(req, resp); err != nil {
		f.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp.StatusCode(), resp.Body()
}

func (f *fixture) call(path string) (int, web.CallResponse) {
	f.t.Helper()
	status, body := f.do("GET", path)
	var resp web.CallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		f.t.Fatalf("decode %s: %v", body, err)
	}
	return status, resp
}

func TestCallAPI_Call(t *testing.T) {
	f := newFixture(t, raw(2, 5, 10, 15), web.APIConfig{})

	status, resp := f.call("/call?number=5550100&duration=12")
	if status != 200 {
		t.Fatalf("status = %v, want 200", status)
	}
	if resp.Status != task.StatusCompleted || resp.CallID == 0 || resp.Number != "5550100" {
		t.Errorf("response = %+v", resp)
	}
	if resp.DurationSeconds != 12 {
		t.Errorf("DurationSeconds = %v, want 12", resp.DurationSeconds)
	}
	if resp.RequestID == "" {
		t.Error("RequestID should be set")
	}
}

func TestCallAPI_StatusMapping(t *testing.T) {
	f := newFixture(t, raw(2, 5, 10, 15), web.APIConfig{})

	tests := []struct {
		name       string
		path       string
		wantCode   int
		wantStatus task.Status
	}{
		{"below min", "/call?number=1&duration=9", 400, task.StatusRejected},
		{"above max", "/call?number=1&duration=16", 400, task.StatusRejected},
		{"malformed duration", "/call?number=1&duration=ten", 400, task.StatusRejected},
		{"empty number", "/call?duration=10", 400, task.StatusRejected},
		{"handler error", "/call?number=fail&duration=10", 500, task.StatusFailed},
		{"inclusive max", "/call?number=1&duration=15", 200, task.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := f.call(tt.path)
			if code != tt.wantCode || resp.Status != tt.wantStatus {
				t.Errorf("GET %s = %v %v, want %v %v", tt.path, code, resp.Status, tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestCallAPI_RandomOperand(t *testing.T) {
	var gotMin, gotMax int
	f := newFixture(t, raw(1, 5, 3, 7), web.APIConfig{
		Operand: func(min, max int) int {
			gotMin, gotMax = min, max
			return max
		},
	})

	status, resp := f.call("/call?number=42")
	if status != 200 || resp.DurationSeconds != 7 {
		t.Errorf("GET /call = %v %+v, want 200 with 7s", status, resp)
	}
	if gotMin != 3 || gotMax != 7 {
		t.Errorf("operand drawn from [%v, %v], want [3, 7]", gotMin, gotMax)
	}
}

func TestCallAPI_Overloaded(t *testing.T) {
	f := newFixture(t, raw(1, 1, 0, 10), web.APIConfig{})

	// one call on the operator, one waiting in the queue
	for i := 0; i < 2; i++ {
		if _, _, err := f.mgr.AddTask(context.Background(), task.Input{Number: "hold", Operand: 1}); err != nil {
			t.Fatalf("AddTask(%d) error = %v", i, err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.mgr.Stats().Pool.Active != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	status, resp := f.call("/call?number=3&duration=1")
	if status != 429 || resp.Status != task.StatusOverloaded {
		t.Errorf("GET /call = %v %v, want 429 Overloaded", status, resp.Status)
	}
	if resp.CallID == 0 {
		t.Error("an overloaded call still gets a call id")
	}
}

func TestCallAPI_Awaiting(t *testing.T) {
	f := newFixture(t, raw(1, 5, 0, 10), web.APIConfig{CallTimeout: 50 * time.Millisecond})

	status, resp := f.call("/call?number=hold&duration=1")
	if status != 202 || resp.Status != task.StatusAwaiting {
		t.Errorf("GET /call = %v %v, want 202 Awaiting", status, resp.Status)
	}
}

func TestCallAPI_Phone(t *testing.T) {
	f := newFixture(t, raw(1, 5, 2, 2), web.APIConfig{})

	status, body := f.do("GET", "/phone=5550100")
	if status != 200 {
		t.Fatalf("status = %v, want 200", status)
	}
	want := "CallID: 1 call duration: 2s\n Status: Completed\n"
	if string(body) != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestCallAPI_Update(t *testing.T) {
	f := newFixture(t, raw(1, 5, 0, 10), web.APIConfig{})

	if status, body := f.do("GET", "/update"); status != 403 || string(body) != "Could not update" {
		t.Errorf("GET /update unchanged = %v %q, want 403", status, body)
	}

	f.src.Set(raw(3, 8, 0, 10))
	if status, body := f.do("POST", "/update"); status != 200 || string(body) != "Updated" {
		t.Errorf("POST /update = %v %q, want 200 Updated", status, body)
	}
	if got := f.mgr.Stats().Pool.Workers; got != 3 {
		t.Errorf("Workers = %v, want 3", got)
	}

	f.src.Set(raw(3, 8, 1, 9))
	if status, body := f.do("GET", "/update"); status != 403 || string(body) != "Could not update" {
		t.Errorf("GET /update bounds only = %v %q, want 403", status, body)
	}
	if got := f.mgr.Stats().Config.Min; got != 1 {
		t.Errorf("Config.Min = %v, want 1 after bounds-only update", got)
	}

	f.src.Fail(nil)
	if status, _ := f.do("GET", "/update"); status != 403 {
		t.Errorf("GET /update with broken source = %v, want 403", status)
	}
}

func TestCallAPI_StatsAndHealth(t *testing.T) {
	f := newFixture(t, raw(2, 7, 0, 10), web.APIConfig{})
	f.call("/call?number=1&duration=1")

	status, body := f.do("GET", "/stats")
	if status != 200 {
		t.Fatalf("GET /stats = %v", status)
	}
	var stats struct {
		State string `json:"state"`
		Pool  struct {
			Workers       int `json:"workers"`
			QueueCapacity int `json:"queue_capacity"`
		} `json:"pool"`
		LastCallID uint64 `json:"last_call_id"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.State != "running" || stats.Pool.Workers != 2 || stats.Pool.QueueCapacity != 7 || stats.LastCallID != 1 {
		t.Errorf("stats = %+v", stats)
	}

	if status, body := f.do("GET", "/health"); status != 200 || !strings.Contains(string(body), "running") {
		t.Errorf("GET /health = %v %s", status, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if status, _ := f.do("GET", "/health"); status != 503 {
		t.Errorf("GET /health after stop = %v, want 503", status)
	}
	if status, resp := f.call("/call?number=1&duration=1"); status != 503 || resp.Status != task.StatusCancelled {
		t.Errorf("GET /call after stop = %v %v, want 503 Cancelled", status, resp.Status)
	}
}

func TestStatusCode(t *testing.T) {
	tests := map[task.Status]int{
		task.StatusCompleted:  200,
		task.StatusAwaiting:   202,
		task.StatusOverloaded: 429,
		task.StatusRejected:   406,
		task.StatusTimeout:    408,
		task.StatusFailed:     500,
		task.StatusCancelled:  503,
	}
	for s, want := range tests {
		if got := web.StatusCode(s); got != want {
			t.Errorf("StatusCode(%v) = %v, want %v", s, got, want)
		}
	}
}
