package prometheus

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxorio/callcenter/pkg/web"
)

// FastHTTPMetricsMiddleware creates middleware that records HTTP metrics
func FastHTTPMetricsMiddleware(m *Metrics) web.FastMiddleware {
	if m == nil {
		m = GetMetrics()
	}
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			start := time.Now()
			method := string(ctx.Method())
			path := routeLabel(string(ctx.Path()))
			requestSize := int64(len(ctx.RequestCtx.PostBody()))

			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			if err != nil && status < 400 {
				status = 500
			}
			responseSize := int64(len(ctx.RequestCtx.Response.Body()))
			m.RecordHTTPRequest(method, path, statusCodeString(status), time.Since(start), requestSize, responseSize)
			return err
		}
	}
}

// routeLabel collapses per-number legacy paths into one label value
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/phone=") {
		return "/phone="
	}
	return path
}

func statusCodeString(code int) string {
	switch {
	case code >= 100 && code < 600:
		return strconv.Itoa(code)
	default:
		return "unknown"
	}
}

// Handler serves the metrics gathered by g, or DefaultRegistry when nil
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = DefaultRegistry
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
