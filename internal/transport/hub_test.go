package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

type dispatched struct {
	clientID string
	msg      protocol.Message
	port     worker.Port
}

type fakeDispatcher struct {
	msgs     chan dispatched
	released chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{msgs: make(chan dispatched, 16), released: make(chan string, 4)}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, clientID string, msg protocol.Message, port worker.Port) error {
	d.msgs <- dispatched{clientID: clientID, msg: msg, port: port}
	return nil
}

func (d *fakeDispatcher) Release(clientID string, _ worker.Port) {
	d.released <- clientID
}

func (d *fakeDispatcher) next(t *testing.T) dispatched {
	t.Helper()
	select {
	case m := <-d.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
		return dispatched{}
	}
}

func startHub(t *testing.T) (*Hub, *fakeDispatcher, string) {
	t.Helper()
	hub := NewHub()
	d := newFakeDispatcher()
	srv := httptest.NewServer(hub.Handler(d))
	t.Cleanup(srv.Close)
	return hub, d, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHubRoundTrip(t *testing.T) {
	hub, d, url := startHub(t)
	ctx := context.Background()

	page, err := Dial(ctx, url)
	require.NoError(t, err)
	defer func() { _ = page.Close() }()

	require.NoError(t, page.Send(ctx, protocol.Init("tab-1", "http://x/master.m3u8", true)))
	got := d.next(t)
	assert.Equal(t, "tab-1", got.clientID)
	assert.Equal(t, protocol.TypeInit, got.msg.Type)

	clients, err := hub.Clients(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tab-1"}, clients)

	require.NoError(t, got.port.Post(ctx, protocol.Fetch("http://x/s1.ts")))
	msg, err := page.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeFetch, msg.Type)
	assert.Equal(t, "http://x/s1.ts", msg.URL)

	require.NoError(t, page.Send(ctx, protocol.Fetched("http://x/s1.ts", &protocol.Response{Status: 200}, nil)))
	got = d.next(t)
	assert.Equal(t, "tab-1", got.clientID)
	assert.Equal(t, protocol.TypeFetched, got.msg.Type)
}

func TestHubGeneratesClientID(t *testing.T) {
	_, d, url := startHub(t)
	ctx := context.Background()

	page, err := Dial(ctx, url)
	require.NoError(t, err)
	defer func() { _ = page.Close() }()

	require.NoError(t, page.Send(ctx, protocol.Init("", "http://x/master.m3u8", false)))
	got := d.next(t)
	assert.Len(t, got.clientID, 36)
	assert.Equal(t, got.clientID, got.msg.ClientID)
}

func TestHubReleasesOnClose(t *testing.T) {
	hub, d, url := startHub(t)
	ctx := context.Background()

	page, err := Dial(ctx, url)
	require.NoError(t, err)
	require.NoError(t, page.Send(ctx, protocol.Init("tab-2", "http://x/master.m3u8", true)))
	d.next(t)

	require.NoError(t, page.Close())

	select {
	case id := <-d.released:
		assert.Equal(t, "tab-2", id)
	case <-time.After(2 * time.Second):
		t.Fatal("channel close was not released")
	}
	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsMalformedFrames(t *testing.T) {
	_, d, url := startHub(t)
	ctx := context.Background()

	page, err := Dial(ctx, url)
	require.NoError(t, err)
	defer func() { _ = page.Close() }()

	require.NoError(t, page.Send(ctx, protocol.Init("tab-3", "http://x/master.m3u8", true)))
	d.next(t)

	require.NoError(t, wsutil.WriteClientText(page.conn, []byte(`{"type":"bogus"}`)))
	require.NoError(t, page.Send(ctx, protocol.Failed("http://x/s1.ts", nil)))

	got := d.next(t)
	assert.Equal(t, protocol.TypeFetched, got.msg.Type)
}

func TestPostAfterCloseFails(t *testing.T) {
	_, d, url := startHub(t)
	ctx := context.Background()

	page, err := Dial(ctx, url)
	require.NoError(t, err)
	require.NoError(t, page.Send(ctx, protocol.Init("tab-4", "http://x/master.m3u8", true)))
	d.next(t)

	require.NoError(t, page.Close())
	assert.NoError(t, page.Close(), "close is idempotent")
	assert.Error(t, page.Send(ctx, protocol.Failed("http://x/s1.ts", nil)))
}
