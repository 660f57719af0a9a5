package intercept

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

type fakePort struct {
	mu   sync.Mutex
	sent []protocol.Message
	got  chan protocol.Message
}

func (p *fakePort) Post(_ context.Context, msg protocol.Message) error {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	if p.got != nil {
		p.got <- msg
	}
	return nil
}

func (p *fakePort) Close() error { return nil }

type staticPlatform []string

func (s staticPlatform) Clients(context.Context) ([]string, error) { return s, nil }
func (s staticPlatform) Claim(context.Context) error                { return nil }

func setup(t *testing.T, timeout time.Duration) (*worker.Registry, *fakePort, *httptest.Server, *httptest.Server) {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(ClientIDHeader) != "" {
			t.Errorf("client id header leaked upstream")
		}
		w.Header().Set("X-Origin", "1")
		_, _ = io.WriteString(w, "from-origin:"+r.URL.Path)
	}))
	t.Cleanup(origin.Close)

	reg := worker.NewRegistry(staticPlatform{"tab"}, worker.Options{FetchTimeout: timeout})
	port := &fakePort{got: make(chan protocol.Message, 8)}
	require.NoError(t, reg.HandleInit(context.Background(), "tab", protocol.Init("tab", origin.URL+"/master.m3u8", true), port))
	<-port.got // ready

	proxySrv := httptest.NewServer(NewHandler(reg, nil))
	t.Cleanup(proxySrv.Close)
	return reg, port, origin, proxySrv
}

func proxyClient(t *testing.T, proxyURL string) *http.Client {
	t.Helper()
	u, err := url.Parse(proxyURL)
	require.NoError(t, err)
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}
}

func TestUntrackedRequestFallsThrough(t *testing.T) {
	_, port, origin, proxySrv := setup(t, 0)

	req, err := http.NewRequest(http.MethodGet, origin.URL+"/app.js", nil)
	require.NoError(t, err)
	req.Header.Set(ClientIDHeader, "tab")

	resp, err := proxyClient(t, proxySrv.URL).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "from-origin:/app.js", string(body))
	assert.Empty(t, resp.Header.Get(InterceptedHeader))
	assert.Len(t, port.got, 0, "no message sent to the page")
}

func TestRequestWithoutClientFallsThrough(t *testing.T) {
	_, _, origin, proxySrv := setup(t, 0)

	resp, err := proxyClient(t, proxySrv.URL).Get(origin.URL + "/master.m3u8")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "from-origin:/master.m3u8", string(body))
}

func TestTrackedRequestIsAnsweredByPage(t *testing.T) {
	reg, port, origin, proxySrv := setup(t, 0)
	manifest := origin.URL + "/master.m3u8"

	go func() {
		msg := <-port.got
		if msg.Type != protocol.TypeFetch || msg.URL != manifest {
			t.Errorf("unexpected page message %+v", msg)
			return
		}
		reg.HandleFetched("tab", protocol.Fetched(manifest, &protocol.Response{
			Status:  200,
			Headers: map[string]string{"Content-Type": "application/vnd.apple.mpegurl"},
			Body:    []byte("#EXTM3U"),
		}, []string{origin.URL + "/s1.ts"}))
	}()

	req, err := http.NewRequest(http.MethodGet, proxySrv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set(ClientIDHeader, "tab")
	req.Header.Set(TargetURLHeader, manifest)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "#EXTM3U", string(body))
	assert.Equal(t, "1", resp.Header.Get(InterceptedHeader))
	assert.Equal(t, "application/vnd.apple.mpegurl", resp.Header.Get("Content-Type"))

	_, tracked := reg.Intercept(context.Background(), "tab", origin.URL+"/s1.ts")
	assert.True(t, tracked)
}

func TestRejectedFetchMapsToBadGateway(t *testing.T) {
	reg, port, origin, proxySrv := setup(t, 0)
	manifest := origin.URL + "/master.m3u8"

	go func() {
		<-port.got
		reg.HandleFetched("tab", protocol.Failed(manifest, io.ErrUnexpectedEOF))
	}()

	req, _ := http.NewRequest(http.MethodGet, manifest, nil)
	req.Header.Set(ClientIDHeader, "tab")
	resp, err := proxyClient(t, proxySrv.URL).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestUnansweredFetchTimesOut(t *testing.T) {
	_, _, origin, proxySrv := setup(t, 30*time.Millisecond)

	req, _ := http.NewRequest(http.MethodGet, origin.URL+"/master.m3u8", nil)
	req.Header.Set(ClientIDHeader, "tab")
	resp, err := proxyClient(t, proxySrv.URL).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestOriginFormWithoutTargetIsRejected(t *testing.T) {
	_, _, _, proxySrv := setup(t, 0)

	resp, err := http.Get(proxySrv.URL + "/segment.ts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{worker.CodeFetchTimeout, http.StatusGatewayTimeout},
		{worker.CodeDestroyed, http.StatusServiceUnavailable},
		{worker.CodeSuperseded, http.StatusServiceUnavailable},
		{worker.CodePortClosed, http.StatusServiceUnavailable},
		{worker.CodeFetchCanceled, http.StatusBadGateway},
		{worker.CodeFetchFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(&worker.CodedError{Code: tt.code}), tt.code)
	}
	assert.Equal(t, http.StatusBadGateway, statusFor(io.EOF))
}
