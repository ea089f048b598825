package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/web"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Fire concurrent calls at a running server",
	Long: `Fire concurrent calls at a running server and print how they ended.

Numbers are generated sequentially from --first. Without --duration the
server draws each call's duration from its configured bounds.`,
	RunE: runLoadCmd,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	f := loadCmd.Flags()
	f.String("url", "http://localhost:8080", "server base URL")
	f.IntP("calls", "n", 140, "number of calls")
	f.IntP("concurrency", "c", 0, "calls in flight at once (0 means all)")
	f.Int("first", 0, "first caller number")
	f.Int("duration", -1, "call duration in units (-1 lets the server choose)")
	f.Bool("legacy", false, "use the /phone=<number> endpoint")
	f.Duration("timeout", 3*time.Minute, "per-request timeout")
}

type loadOptions struct {
	BaseURL     string
	Calls       int
	Concurrency int
	First       int
	Duration    int
	Legacy      bool
	Timeout     time.Duration
}

// loadReport is the outcome of one load run
type loadReport struct {
	Elapsed time.Duration
	// Statuses counts call statuses, or HTTP codes for legacy and failed
	// responses
	Statuses  map[string]int
	Errors    int
	Latencies []time.Duration
}

func (r *loadReport) percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	i := int(p * float64(len(r.Latencies)-1))
	return r.Latencies[i]
}

func (r *loadReport) print(w io.Writer) {
	total := r.Errors
	for _, n := range r.Statuses {
		total += n
	}
	fmt.Fprintf(w, "%d calls in %s\n", total, r.Elapsed.Round(time.Millisecond))

	keys := make([]string, 0, len(r.Statuses))
	for k := range r.Statuses {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %d\n", k, r.Statuses[k])
	}
	if r.Errors > 0 {
		fmt.Fprintf(w, "  %-12s %d\n", "errors", r.Errors)
	}
	fmt.Fprintf(w, "latency p50=%s p95=%s max=%s\n",
		r.percentile(0.5).Round(time.Millisecond),
		r.percentile(0.95).Round(time.Millisecond),
		r.percentile(1).Round(time.Millisecond))
}

func runLoadCmd(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var opts loadOptions
	opts.BaseURL, _ = f.GetString("url")
	opts.Calls, _ = f.GetInt("calls")
	opts.Concurrency, _ = f.GetInt("concurrency")
	opts.First, _ = f.GetInt("first")
	opts.Duration, _ = f.GetInt("duration")
	opts.Legacy, _ = f.GetBool("legacy")
	opts.Timeout, _ = f.GetDuration("timeout")

	client := &fasthttp.Client{
		Name:            "callcenter-load",
		MaxConnsPerHost: max(opts.Concurrency, opts.Calls),
	}
	report, err := runLoad(cmd.Context(), client, opts)
	if err != nil {
		return err
	}
	report.print(cmd.OutOrStdout())
	return nil
}

func runLoad(ctx context.Context, client *fasthttp.Client, opts loadOptions) (*loadReport, error) {
	if opts.Calls <= 0 {
		return nil, &core.Error{Code: core.CodeInvalidInput, Message: "calls must be positive"}
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, &core.Error{Code: core.CodeInvalidInput, Message: "invalid url: " + err.Error()}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	report := &loadReport{Statuses: make(map[string]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	start := time.Now()
	for i := 0; i < opts.Calls; i++ {
		number := strconv.Itoa(opts.First + i)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			began := time.Now()
			key, err := placeCall(client, opts, number)
			took := time.Since(began)

			mu.Lock()
			defer mu.Unlock()
			report.Latencies = append(report.Latencies, took)
			if err != nil {
				report.Errors++
				return nil
			}
			report.Statuses[key]++
			return nil
		})
	}
	err := g.Wait()
	report.Elapsed = time.Since(start)
	slices.Sort(report.Latencies)
	return report, err
}

func placeCall(client *fasthttp.Client, opts loadOptions, number string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if opts.Legacy {
		req.SetRequestURI(opts.BaseURL + "/phone=" + url.PathEscape(number))
	} else {
		q := url.Values{"number": {number}}
		if opts.Duration >= 0 {
			q.Set("duration", strconv.Itoa(opts.Duration))
		}
		req.SetRequestURI(opts.BaseURL + "/call?" + q.Encode())
	}

	if err := client.DoTimeout(req, resp, opts.Timeout); err != nil {
		return "", err
	}

	code := "HTTP " + strconv.Itoa(resp.StatusCode())
	if opts.Legacy {
		return code, nil
	}
	var cr web.CallResponse
	if err := core.JSONDecode(resp.Body(), &cr); err != nil || cr.Number == "" {
		return code, nil
	}
	return cr.Status.String(), nil
}
