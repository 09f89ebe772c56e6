// Package proxy forwards authorized requests to backend APIs. It swaps the
// browser's session credentials for a bearer token and streams the backend
// response back.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-bff-server/internal/config"
	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/rs/zerolog/log"
)

// ErrClientGone is returned when the browser disconnected before the
// backend answered. Nothing is written in that case.
var ErrClientGone = errors.New("client disconnected")

// Forwarder is the credential-injecting reverse proxy
type Forwarder struct {
	httpClient *http.Client
	timeout    time.Duration
	// reserved cookie names never leave the gateway in either direction
	reserved map[string]struct{}
	// stripHeaders are removed from every forwarded request
	stripHeaders []string
}

// Option configures a Forwarder
type Option func(*Forwarder)

// WithHTTPClient replaces the client used to reach backends
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		f.httpClient = c
	}
}

// WithStrippedHeaders removes extra request headers before forwarding
func WithStrippedHeaders(headers ...string) Option {
	return func(f *Forwarder) {
		f.stripHeaders = append(f.stripHeaders, headers...)
	}
}

// New creates a forwarder. timeout bounds the wait for a backend's response
// headers; a body that is still arriving is never cut short. reservedCookies
// lists the gateway's own cookie names.
func New(timeout time.Duration, reservedCookies []string, opts ...Option) *Forwarder {
	f := &Forwarder{
		httpClient: &http.Client{
			// Don't follow redirects, return them to the caller.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:  timeout,
		reserved: make(map[string]struct{}, len(reservedCookies)),
	}
	for _, name := range reservedCookies {
		f.reserved[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends r to the rule's backend and streams the answer to w. When
// accessToken is set it replaces any client Authorization header.
//
// ErrUpstreamTimeout and ErrUpstreamUnavailable are returned before anything
// is written and the caller renders them. ErrClientGone needs no response.
// A backend body that breaks off after the status was sent aborts the
// response with http.ErrAbortHandler so the client sees a truncated transfer.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, rule config.RouteRule, accessToken string) error {
	target, err := TargetURL(rule, r.URL)
	if err != nil {
		return fmt.Errorf("[proxy Forward] %w: %w", bfferrors.ErrUpstreamUnavailable, err)
	}

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)
	headerTimer := time.AfterFunc(f.timeout, func() {
		cancel(bfferrors.ErrUpstreamTimeout)
	})

	resp, err := f.do(ctx, r, target, accessToken)
	headerTimer.Stop()
	if err != nil {
		switch {
		case r.Context().Err() != nil:
			return ErrClientGone
		case errors.Is(context.Cause(ctx), bfferrors.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("[proxy Forward] %s %s: %w", r.Method, rule.Name, bfferrors.ErrUpstreamTimeout)
		default:
			return fmt.Errorf("[proxy Forward] %s %s: %w: %w", r.Method, rule.Name, bfferrors.ErrUpstreamUnavailable, err)
		}
	}
	defer resp.Body.Close()

	f.copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	var copyErr error
	if isStreamingResponse(resp) {
		copyErr = StreamResponse(w, resp.Body)
	} else {
		_, copyErr = io.Copy(w, resp.Body)
	}
	if copyErr != nil {
		if r.Context().Err() != nil {
			return ErrClientGone
		}
		log.Ctx(r.Context()).Warn().Err(copyErr).Str("route", rule.Name).Msg("backend response truncated")
		panic(http.ErrAbortHandler)
	}
	return nil
}

// do executes the upstream exchange. Idempotent requests without a body
// are retried once after a network error.
func (f *Forwarder) do(ctx context.Context, r *http.Request, target *url.URL, accessToken string) (*http.Response, error) {
	attempts := 1
	if isRetryable(r) {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		upstreamReq, err := f.newUpstreamRequest(ctx, r, target, accessToken)
		if err != nil {
			return nil, err
		}
		resp, err := f.httpClient.Do(upstreamReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("attempt", i+1).Msg("upstream request failed")
	}
	return nil, lastErr
}

func (f *Forwarder) newUpstreamRequest(ctx context.Context, r *http.Request, target *url.URL, accessToken string) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		body = r.Body
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		upstreamReq.ContentLength = r.ContentLength
	}

	copyHeaders(upstreamReq.Header, r.Header)
	for _, h := range f.stripHeaders {
		upstreamReq.Header.Del(h)
	}
	f.stripReservedCookies(upstreamReq.Header)
	if accessToken != "" {
		upstreamReq.Header.Set("Authorization", "Bearer "+accessToken)
	}
	setForwardedHeaders(upstreamReq.Header, r)
	return upstreamReq, nil
}

// stripReservedCookies drops the gateway's own cookies from the Cookie
// header, keeping everything else the browser sent.
func (f *Forwarder) stripReservedCookies(h http.Header) {
	lines := h.Values("Cookie")
	if len(lines) == 0 {
		return
	}
	h.Del("Cookie")

	var kept []string
	for _, line := range lines {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if _, reserved := f.reserved[c.Name]; reserved {
				continue
			}
			kept = append(kept, c.Name+"="+c.Value)
		}
	}
	if len(kept) > 0 {
		h.Set("Cookie", strings.Join(kept, "; "))
	}
}

// copyResponseHeaders copies backend headers, refusing any Set-Cookie that
// would overwrite one of the gateway's cookies. Headers already set on dst
// by the gateway (security policy, CORS) are kept as they are.
func (f *Forwarder) copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		if http.CanonicalHeaderKey(k) == "Set-Cookie" {
			for _, v := range vv {
				c, err := http.ParseSetCookie(v)
				if err != nil {
					continue
				}
				if _, reserved := f.reserved[c.Name]; reserved {
					log.Warn().Str("cookie", c.Name).Msg("dropping backend Set-Cookie for a reserved cookie")
					continue
				}
				dst.Add("Set-Cookie", v)
			}
			continue
		}
		if _, preset := dst[k]; preset {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// TargetURL maps the inbound URL onto the rule's backend
func TargetURL(rule config.RouteRule, in *url.URL) (*url.URL, error) {
	backend, err := url.Parse(rule.Backend)
	if err != nil {
		return nil, fmt.Errorf("invalid backend %q: %w", rule.Backend, err)
	}

	p := in.Path
	if rule.StripPrefix && rule.PathPrefix != "/" {
		p = strings.TrimPrefix(p, rule.PathPrefix)
		if p == "" {
			p = "/"
		}
	}

	target := *backend
	target.Path = singleJoiningSlash(backend.Path, p)
	target.RawPath = ""
	target.RawQuery = in.RawQuery
	target.Fragment = ""
	return &target, nil
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// copyHeaders copies HTTP headers, excluding hop-by-hop headers that
// should not be forwarded between connections.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) || strings.EqualFold(k, "host") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(k string) bool {
	switch strings.ToLower(k) {
	case "connection", "keep-alive", "proxy-connection", "proxy-authenticate", "proxy-authorization",
		"transfer-encoding", "te", "trailer", "upgrade":
		return true
	}
	return false
}

func setForwardedHeaders(h http.Header, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	h.Set("X-Forwarded-Host", r.Host)
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
}

func isRetryable(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return r.ContentLength == 0
	}
	return false
}

// isStreamingResponse checks if the upstream response should be flushed
// incrementally.
func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "text/event-stream") ||
		strings.Contains(ct, "application/x-ndjson") ||
		resp.ContentLength < 0
}
