package proxy_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-bff-server/internal/config"
	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/proxy"
	"github.com/stretchr/testify/require"
)

var reservedCookies = []string{"__Host-bff-session", "__Host-X-XSRF-TOKEN"}

type seenRequest struct {
	path   string
	query  string
	auth   string
	cookie string
	xsrf   string
	body   string
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, chan seenRequest) {
	t.Helper()
	seen := make(chan seenRequest, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen <- seenRequest{
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			cookie: r.Header.Get("Cookie"),
			xsrf:   r.Header.Get("X-XSRF-TOKEN"),
			body:   string(b),
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestForwardInjectsTokenAndStripsCredentials(t *testing.T) {
	backend, seen := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "__Host-bff-session", Value: "evil"})
		http.SetCookie(w, &http.Cookie{Name: "backend-pref", Value: "dark"})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	f := proxy.New(5*time.Second, reservedCookies, proxy.WithStrippedHeaders("X-XSRF-TOKEN"))
	rule := config.RouteRule{Name: "orders", PathPrefix: "/api/orders", Backend: backend.URL, RequiresAuth: true}

	r := httptest.NewRequest(http.MethodPost, "/api/orders?expand=lines", strings.NewReader(`{"sku":"a"}`))
	r.Header.Set("Cookie", "__Host-bff-session=secret; theme=light; __Host-X-XSRF-TOKEN=csrf")
	r.Header.Set("X-XSRF-TOKEN", "csrf")
	r.Header.Set("Authorization", "Basic client-supplied")
	w := httptest.NewRecorder()

	require.NoError(t, f.Forward(w, r, rule, "access-token"))

	got := <-seen
	require.Equal(t, "/api/orders", got.path)
	require.Equal(t, "expand=lines", got.query)
	require.Equal(t, "Bearer access-token", got.auth)
	require.Equal(t, "theme=light", got.cookie)
	require.Empty(t, got.xsrf)
	require.Equal(t, `{"sku":"a"}`, got.body)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, `{"id":1}`, w.Body.String())
	setCookies := w.Result().Cookies()
	require.Len(t, setCookies, 1)
	require.Equal(t, "backend-pref", setCookies[0].Name)
}

func TestForwardPublicRoutePassesAuthorizationThrough(t *testing.T) {
	backend, seen := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	f := proxy.New(5*time.Second, reservedCookies)
	rule := config.RouteRule{Name: "status", PathPrefix: "/api/status", Backend: backend.URL}

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Authorization", "Bearer partner-key")
	r.Header.Set("Cookie", "__Host-bff-session=secret")
	require.NoError(t, f.Forward(httptest.NewRecorder(), r, rule, ""))

	got := <-seen
	require.Equal(t, "Bearer partner-key", got.auth)
	require.Empty(t, got.cookie)
}

func TestTargetURL(t *testing.T) {
	in, _ := url.Parse("/api/orders/42?x=1")

	target, err := proxy.TargetURL(config.RouteRule{PathPrefix: "/api/orders", Backend: "https://orders.internal/v1"}, in)
	require.NoError(t, err)
	require.Equal(t, "https://orders.internal/v1/api/orders/42?x=1", target.String())

	target, err = proxy.TargetURL(config.RouteRule{PathPrefix: "/api/orders", Backend: "https://orders.internal/v1/", StripPrefix: true}, in)
	require.NoError(t, err)
	require.Equal(t, "https://orders.internal/v1/42?x=1", target.String())

	root, _ := url.Parse("/api/orders")
	target, err = proxy.TargetURL(config.RouteRule{PathPrefix: "/api/orders", Backend: "http://orders", StripPrefix: true}, root)
	require.NoError(t, err)
	require.Equal(t, "http://orders/", target.String())
}

func TestForwardUnavailableBackend(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	f := proxy.New(2*time.Second, reservedCookies)
	rule := config.RouteRule{Name: "gone", PathPrefix: "/api/gone", Backend: "http://" + addr}

	w := httptest.NewRecorder()
	err = f.Forward(w, httptest.NewRequest(http.MethodGet, "/api/gone", nil), rule, "at")
	require.ErrorIs(t, err, bfferrors.ErrUpstreamUnavailable)
	require.Equal(t, http.StatusBadGateway, bfferrors.StatusCode(err))
	require.Equal(t, 0, w.Body.Len())
}

func TestForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	backend, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	f := proxy.New(50*time.Millisecond, reservedCookies)
	rule := config.RouteRule{Name: "slow", PathPrefix: "/api/slow", Backend: backend.URL}

	err := f.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/slow", nil), rule, "at")
	require.ErrorIs(t, err, bfferrors.ErrUpstreamTimeout)
	require.Equal(t, http.StatusGatewayTimeout, bfferrors.StatusCode(err))
}

func TestForwardCancelsBackendWhenClientLeaves(t *testing.T) {
	backendCancelled := make(chan struct{})
	started := make(chan struct{})
	backend, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		close(backendCancelled)
	})

	f := proxy.New(10*time.Second, reservedCookies)
	rule := config.RouteRule{Name: "slow", PathPrefix: "/api/slow", Backend: backend.URL}

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/api/slow", nil).WithContext(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- f.Forward(httptest.NewRecorder(), r, rule, "at") }()

	<-started
	cancel()
	require.ErrorIs(t, <-errCh, proxy.ErrClientGone)

	select {
	case <-backendCancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("backend request was not cancelled")
	}
}

func TestForwardRetriesIdempotentRequestOnce(t *testing.T) {
	var calls int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			hj, _ := w.(http.Hijacker)
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
			}
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer backend.Close()

	f := proxy.New(5*time.Second, reservedCookies)
	rule := config.RouteRule{Name: "flaky", PathPrefix: "/api/flaky", Backend: backend.URL}

	w := httptest.NewRecorder()
	require.NoError(t, f.Forward(w, httptest.NewRequest(http.MethodGet, "/api/flaky", nil), rule, "at"))
	require.Equal(t, "ok", w.Body.String())
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestForwardDoesNotRetryPost(t *testing.T) {
	var calls int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hj, _ := w.(http.Hijacker)
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer backend.Close()

	f := proxy.New(5*time.Second, reservedCookies)
	rule := config.RouteRule{Name: "flaky", PathPrefix: "/api/flaky", Backend: backend.URL}

	err := f.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/flaky", strings.NewReader("x")), rule, "at")
	require.ErrorIs(t, err, bfferrors.ErrUpstreamUnavailable)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStreamResponseFlushes(t *testing.T) {
	backend, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 3; i++ {
			_, _ = w.Write([]byte("data: tick\n\n"))
			w.(http.Flusher).Flush()
		}
	})

	f := proxy.New(5*time.Second, reservedCookies)
	rule := config.RouteRule{Name: "events", PathPrefix: "/api/events", Backend: backend.URL}

	w := httptest.NewRecorder()
	require.NoError(t, f.Forward(w, httptest.NewRequest(http.MethodGet, "/api/events", nil), rule, "at"))
	require.True(t, w.Flushed)
	require.Equal(t, 3, strings.Count(w.Body.String(), "data: tick"))
}

func TestForwardStreamOutlivesHeaderTimeout(t *testing.T) {
	backend, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 6; i++ {
			_, _ = fmt.Fprintf(w, "data: %d\n\n", i)
			w.(http.Flusher).Flush()
			time.Sleep(50 * time.Millisecond)
		}
	})

	f := proxy.New(120*time.Millisecond, reservedCookies)
	rule := config.RouteRule{Name: "events", PathPrefix: "/api/events", Backend: backend.URL}

	w := httptest.NewRecorder()
	require.NoError(t, f.Forward(w, httptest.NewRequest(http.MethodGet, "/api/events", nil), rule, "at"))
	require.Equal(t, http.StatusOK, w.Code)
	for i := 0; i < 6; i++ {
		require.Contains(t, w.Body.String(), fmt.Sprintf("data: %d\n\n", i))
	}
}

func TestForwardAbortsOnTruncatedBody(t *testing.T) {
	backend, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
	})

	f := proxy.New(5*time.Second, reservedCookies)
	rule := config.RouteRule{Name: "broken", PathPrefix: "/api/broken", Backend: backend.URL}

	w := httptest.NewRecorder()
	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		_ = f.Forward(w, httptest.NewRequest(http.MethodGet, "/api/broken", nil), rule, "at")
	})
	require.Equal(t, http.StatusOK, w.Code)
}
