package intercept

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

const (
	// ClientIDHeader carries the id of the page that issued a fetch.
	ClientIDHeader = "X-P2PML-Client-Id"
	// TargetURLHeader names the upstream URL for origin-form requests.
	TargetURLHeader = "X-P2PML-Target-Url"
	// InterceptedHeader is set on responses produced by a page.
	InterceptedHeader = "X-P2PML-Intercepted"
)

// Interceptor is the worker side of fetch suspension.
type Interceptor interface {
	Intercept(ctx context.Context, clientID, url string) (*worker.Interception, bool)
	Await(ctx context.Context, i *worker.Interception) (*protocol.Response, error)
}

type proxy struct {
	icpt     Interceptor
	upstream *httputil.ReverseProxy
}

// NewHandler returns a forward proxy. Fetches from a registered page for a
// tracked URL are answered by that page; everything else goes to the network
// untouched.
func NewHandler(icpt Interceptor, transport http.RoundTripper) http.Handler {
	if transport == nil {
		transport = http.DefaultTransport
	}
	p := &proxy{
		icpt: icpt,
		upstream: &httputil.ReverseProxy{
			Rewrite:   rewrite,
			Transport: transport,
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				slog.Warn("upstream fetch failed", "url", r.URL.String(), "error", err)
				http.Error(w, "upstream fetch failed", http.StatusBadGateway)
			},
		},
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Handle("/*", p)
	return router
}

func (p *proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "tunnelling is not supported", http.StatusMethodNotAllowed)
		return
	}

	target, err := targetURL(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	clientID := r.Header.Get(ClientIDHeader)
	if clientID != "" {
		if i, ok := p.icpt.Intercept(r.Context(), clientID, target.String()); ok {
			markIntercepted(r)
			p.serveIntercepted(w, r, i)
			return
		}
	}

	out := r.Clone(r.Context())
	out.URL = target
	p.upstream.ServeHTTP(w, out)
}

func (p *proxy) serveIntercepted(w http.ResponseWriter, r *http.Request, i *worker.Interception) {
	resp, err := p.icpt.Await(r.Context(), i)
	if err != nil {
		status := statusFor(err)
		slog.Debug("intercepted fetch rejected", "url", i.URL, "client_id", i.ClientID, "status", status, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.Header().Set(InterceptedHeader, "1")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		slog.Debug("intercepted response write failed", "url", i.URL, "error", err)
	}
}

func rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL = pr.In.URL
	pr.Out.Host = pr.In.URL.Host
	pr.Out.Header.Del(ClientIDHeader)
	pr.Out.Header.Del(TargetURLHeader)
}

func targetURL(r *http.Request) (*url.URL, error) {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u, nil
	}
	raw := r.Header.Get(TargetURLHeader)
	if raw == "" {
		return nil, errors.New("request is neither absolute-form nor carries " + TargetURLHeader)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return nil, errors.New("invalid " + TargetURLHeader)
	}
	return u, nil
}

func statusFor(err error) int {
	var coded *worker.CodedError
	if !errors.As(err, &coded) {
		return http.StatusBadGateway
	}
	switch coded.Code {
	case worker.CodeFetchTimeout:
		return http.StatusGatewayTimeout
	case worker.CodeDestroyed, worker.CodeSuperseded, worker.CodePortClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
