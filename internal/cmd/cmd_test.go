package cmd

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/callcenter/internal/settings"
	"github.com/fluxorio/callcenter/pkg/config"
	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/db"
	"github.com/fluxorio/callcenter/pkg/web/middleware/auth"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "callcenter" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "callcenter")
	}

	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range []string{"serve", "load", "config", "token"} {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")

	out, err := executeCommand(rootCmd, "config", "init", path)
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if !strings.Contains(out, "Wrote "+path) {
		t.Errorf("config init output = %q", out)
	}

	if _, err := executeCommand(rootCmd, "config", "init", path); err == nil {
		t.Error("config init over an existing file should fail without --force")
	}

	out, err = executeCommand(rootCmd, "config", "show", path)
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	for _, want := range []string{"operators  2", "queue      15", "duration   [10, 15]"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Corrected") {
		t.Errorf("default config should need no corrections:\n%s", out)
	}
}

func TestConfigShow_Corrections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.json")
	ops, queue, min, max := 0, 15, 20, 5
	if err := config.Save(path, config.Raw{AmountOfOperators: &ops, SizeOfQueue: &queue, RMin: &min, RMax: &max}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out, err := executeCommand(rootCmd, "config", "show", path)
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	for _, want := range []string{"operators  1", "duration   [5, 20]", "operators=true queue=false bounds=true"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q:\n%s", want, out)
		}
	}
}

func TestToken(t *testing.T) {
	out, err := executeCommand(rootCmd, "token", "ops", "--jwt-secret", "s3cret", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	})
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops")
	}
	if claims.Issuer != "callcenter" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "callcenter")
	}
}

func TestLoadReport(t *testing.T) {
	r := &loadReport{
		Elapsed:   time.Second,
		Statuses:  map[string]int{"Overloaded": 1, "Completed": 3},
		Errors:    1,
		Latencies: []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond},
	}
	if got := r.percentile(0.5); got != 3*time.Millisecond {
		t.Errorf("percentile(0.5) = %v, want 3ms", got)
	}
	if got := r.percentile(1); got != 5*time.Millisecond {
		t.Errorf("percentile(1) = %v, want 5ms", got)
	}

	var buf bytes.Buffer
	r.print(&buf)
	out := buf.String()
	if !strings.HasPrefix(out, "5 calls in 1s\n") {
		t.Errorf("print() header = %q", out)
	}
	if strings.Index(out, "Completed") > strings.Index(out, "Overloaded") {
		t.Errorf("print() should sort statuses:\n%s", out)
	}
	if !strings.Contains(out, "errors") {
		t.Errorf("print() should report errors:\n%s", out)
	}

	if _, err := runLoad(context.Background(), &fasthttp.Client{}, loadOptions{}); err == nil {
		t.Error("runLoad() with zero calls should fail")
	}
}

// testService starts a full service on loopback listeners
type testService struct {
	svc    *service
	base   string
	admin  string
	dir    string
	cancel context.CancelFunc
	done   chan error
}

func startService(t *testing.T) *testService {
	t.Helper()
	dir := t.TempDir()

	enginePath := filepath.Join(dir, "engine.yaml")
	ops, queue, min, max := 2, 15, 1, 2
	if err := config.Save(enginePath, config.Raw{AmountOfOperators: &ops, SizeOfQueue: &queue, RMin: &min, RMax: &max}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	s := settings.Default()
	s.EngineConfig = enginePath
	s.Watch = false
	s.Operator.Unit = time.Millisecond
	s.HTTP.Addr = "127.0.0.1:0"
	s.HTTP.CallTimeout = 5 * time.Second
	s.Admin.Addr = "127.0.0.1:0"
	s.Admin.PollInterval = 10 * time.Millisecond
	s.Auth.JWTSecret = "secret"
	s.Records.File = filepath.Join(dir, "cdr.txt")
	s.Records.SQLDriver = db.DriverSQLite
	s.Records.SQLDSN = filepath.Join(dir, "cdr.db")
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	svc, err := newService(context.Background(), s, core.NopLogger())
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	adminLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testService{
		svc:    svc,
		base:   "http://" + httpLn.Addr().String(),
		admin:  "http://" + adminLn.Addr().String(),
		dir:    dir,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { ts.done <- svc.run(ctx, httpLn, adminLn) }()
	t.Cleanup(func() { ts.stop(t) })
	return ts
}

func (ts *testService) stop(t *testing.T) {
	t.Helper()
	if ts.cancel == nil {
		return
	}
	ts.cancel()
	ts.cancel = nil
	select {
	case err := <-ts.done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}

func doRequest(t *testing.T, method, url, token string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if err := fasthttp.DoTimeout(req, resp, 5*time.Second); err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp.StatusCode(), string(resp.Body())
}

func scrapeUntil(t *testing.T, url, want string) string {
	t.Helper()
	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			if strings.Contains(body, want) {
				return body
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("metrics never contained %q", want)
	return body
}

func TestService_EndToEnd(t *testing.T) {
	ts := startService(t)

	if code, body := doRequest(t, "GET", ts.base+"/health", ""); code != 200 || !strings.Contains(body, `"running"`) {
		t.Fatalf("GET /health = %d %s, want 200 running", code, body)
	}

	report, err := runLoad(context.Background(), &fasthttp.Client{}, loadOptions{
		BaseURL: ts.base, Calls: 6, Concurrency: 3, Duration: 1, Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("runLoad() error = %v", err)
	}
	if report.Statuses["Completed"] != 6 || report.Errors != 0 {
		t.Errorf("runLoad() statuses = %v errors = %d, want 6 Completed", report.Statuses, report.Errors)
	}

	legacy, err := runLoad(context.Background(), &fasthttp.Client{}, loadOptions{
		BaseURL: ts.base, Calls: 2, First: 100, Legacy: true, Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("runLoad(legacy) error = %v", err)
	}
	if legacy.Statuses["HTTP 200"] != 2 {
		t.Errorf("runLoad(legacy) statuses = %v, want 2 x HTTP 200", legacy.Statuses)
	}

	scrapeUntil(t, ts.admin+"/metrics", `callcenter_calls_finished_total{service="callcenter",status="Completed"} 8`)
	body := scrapeUntil(t, ts.admin+"/metrics", `callcenter_pool_workers{service="callcenter"} 2`)
	for _, want := range []string{
		`callcenter_http_requests_total{method="GET",path="/call",service="callcenter",status="200"} 6`,
		`callcenter_http_requests_total{method="GET",path="/phone=",service="callcenter",status="200"} 2`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}

	// /update is guarded and only succeeds when the engine file changed
	if code, _ := doRequest(t, "POST", ts.base+"/update", ""); code != 401 {
		t.Errorf("POST /update without token = %d, want 401", code)
	}
	token, err := auth.NewJWTTokenGenerator([]byte("secret"), "callcenter").Generate("ops", time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if code, _ := doRequest(t, "POST", ts.base+"/update", token); code != 403 {
		t.Errorf("POST /update without change = %d, want 403", code)
	}

	ops, queue, min, max := 4, 20, 1, 2
	if err := config.Save(ts.svc.settings.EngineConfig, config.Raw{AmountOfOperators: &ops, SizeOfQueue: &queue, RMin: &min, RMax: &max}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if code, body := doRequest(t, "POST", ts.base+"/update", token); code != 200 {
		t.Errorf("POST /update after change = %d %s, want 200", code, body)
	}
	if got := ts.svc.mgr.Stats().Pool.Workers; got != 4 {
		t.Errorf("workers after update = %d, want 4", got)
	}

	ts.stop(t)

	cdr, err := os.ReadFile(ts.svc.settings.Records.File)
	if err != nil {
		t.Fatalf("read CDR file: %v", err)
	}
	if got := strings.Count(string(cdr), "Completed"); got != 8 {
		t.Errorf("CDR file has %d completed calls, want 8", got)
	}

	pool, err := db.NewPool(db.DefaultPoolConfig(ts.svc.settings.Records.SQLDSN, db.DriverSQLite))
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	defer pool.Close()
	var rows int
	if err := pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM call_records").Scan(&rows); err != nil {
		t.Fatalf("count call records: %v", err)
	}
	if rows != 8 {
		t.Errorf("call_records rows = %d, want 8", rows)
	}
}

func TestNewService_InvalidRecorder(t *testing.T) {
	s := settings.Default()
	s.EngineConfig = filepath.Join(t.TempDir(), "missing.yaml")
	s.Records.File = ""
	s.Records.SQLDriver = db.DriverSQLite
	s.Records.SQLDSN = filepath.Join(t.TempDir(), "no", "such", "dir", "cdr.db")

	_, err := newService(context.Background(), s, core.NopLogger())
	if err == nil {
		t.Fatal("newService() with an unreachable database should fail")
	}
	if !strings.Contains(err.Error(), "open database") {
		t.Errorf("newService() error = %v, want an open database error", err)
	}
}
