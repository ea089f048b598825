package security

import (
	"strconv"

	"github.com/fluxorio/callcenter/pkg/web"
)

// HeadersConfig configures security headers
type HeadersConfig struct {
	// HSTSMaxAge enables Strict-Transport-Security when positive (seconds)
	HSTSMaxAge     int
	HSTSIncludeSub bool

	CSP                 string
	XFrameOptions       string
	XContentTypeOptions bool
	ReferrerPolicy      string

	CustomHeaders map[string]string
}

// DefaultHeadersConfig returns headers suited to a JSON/text API
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: true,
		ReferrerPolicy:      "no-referrer",
	}
}

type header struct{ key, value string }

// Headers middleware adds security headers to responses
func Headers(config HeadersConfig) web.FastMiddleware {
	var headers []header
	if config.HSTSMaxAge > 0 {
		v := "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSub {
			v += "; includeSubDomains"
		}
		headers = append(headers, header{"Strict-Transport-Security", v})
	}
	if config.CSP != "" {
		headers = append(headers, header{"Content-Security-Policy", config.CSP})
	}
	if config.XFrameOptions != "" {
		headers = append(headers, header{"X-Frame-Options", config.XFrameOptions})
	}
	if config.XContentTypeOptions {
		headers = append(headers, header{"X-Content-Type-Options", "nosniff"})
	}
	if config.ReferrerPolicy != "" {
		headers = append(headers, header{"Referrer-Policy", config.ReferrerPolicy})
	}
	for k, v := range config.CustomHeaders {
		headers = append(headers, header{k, v})
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			for _, h := range headers {
				ctx.RequestCtx.Response.Header.Set(h.key, h.value)
			}
			return next(ctx)
		}
	}
}
