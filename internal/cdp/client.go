package cdp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/p2pml_bridge/internal/config"
	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

// Router decides the fate of paused requests.
type Router interface {
	Intercept(ctx context.Context, clientID, url string) (*worker.Interception, bool)
	Await(ctx context.Context, i *worker.Interception) (*protocol.Response, error)
}

// Client is the Chromium worker platform: page targets are the clients and
// paused Fetch-domain requests are the intercepted fetches. The page target
// id is the client id.
type Client struct {
	cfg      *config.WorkerConfig
	patterns []*fetch.RequestPattern
	tabs     *TabRegistry

	mu            sync.RWMutex
	router        Router
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewClient(cfg *config.WorkerConfig, icfg *config.InterceptConfig) *Client {
	return &Client{
		cfg:      cfg,
		patterns: requestPatterns(icfg),
		tabs:     NewTabRegistry(),
	}
}

// Route sets the router for paused requests. It must be called before
// Claim.
func (c *Client) Route(r Router) {
	c.mu.Lock()
	c.router = r
	c.mu.Unlock()
}

// Connect attaches to the configured browser, or launches one when
// CDP_LAUNCH is set.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.CDPLaunch {
		slog.Info("Launching Chromium")
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("remote-debugging-port", fmt.Sprint(c.cfg.CDPPort)),
		)
		c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	} else {
		cdpURL := c.cfg.CDPURL()
		slog.Info("Connecting to Chromium", "url", cdpURL)
		c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	}

	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(c.browserCtx) }()
	select {
	case err := <-errCh:
		if err != nil {
			c.Close()
			return fmt.Errorf("failed to connect to browser: %w", err)
		}
	case <-connectCtx.Done():
		c.Close()
		return fmt.Errorf("failed to connect to browser: %w", connectCtx.Err())
	}
	return nil
}

// Clients lists page targets matching CDP_TAB_URL_FILTER.
func (c *Client) Clients(ctx context.Context) ([]string, error) {
	infos, err := c.pages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, t := range infos {
		out = append(out, string(t.TargetID))
	}
	sort.Strings(out)
	return out, nil
}

// Claim enables request interception on every matching page target not yet
// attached and detaches from targets that went away.
func (c *Client) Claim(ctx context.Context) error {
	c.mu.RLock()
	router := c.router
	c.mu.RUnlock()
	if router == nil {
		return fmt.Errorf("cdp client has no router")
	}

	infos, err := c.pages(ctx)
	if err != nil {
		return err
	}

	live := make([]target.ID, 0, len(infos))
	attached := 0
	for _, t := range infos {
		live = append(live, t.TargetID)
		if c.tabs.Has(t.TargetID) {
			continue
		}
		if err := c.attachToTab(router, t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attached++
	}
	for _, id := range c.tabs.Prune(live) {
		slog.Info("Detached from closed tab", "target_id", id)
	}

	if attached > 0 {
		slog.Info("Claimed tabs", "attached", attached, "total", c.tabs.Count(), "tab_url_filter", c.cfg.TabURLFilter)
	}
	return nil
}

func (c *Client) pages(ctx context.Context) ([]*target.Info, error) {
	if c.browserCtx == nil {
		return nil, fmt.Errorf("cdp client not connected")
	}
	targets, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !matchesTabURL(c.cfg.TabURLFilter, t.URL) {
			slog.Debug("Skipping tab (url filter)", "url", truncateURL(t.URL))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Client) attachToTab(router Router, targetID target.ID, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	tab := &Tab{ID: targetID, URL: url, AttachedAt: time.Now(), ctx: tabCtx, cancel: tabCancel}

	chromedp.ListenTarget(tabCtx, c.createEventHandler(router, tab))
	if err := chromedp.Run(tabCtx, fetch.Enable().WithPatterns(c.patterns)); err != nil {
		tabCancel()
		return fmt.Errorf("failed to enable fetch domain: %w", err)
	}
	c.tabs.Add(tab)

	slog.Info("Attached to tab", "target_id", targetID, "patterns", len(c.patterns), "url", truncateURL(url))
	return nil
}

func (c *Client) createEventHandler(router Router, tab *Tab) func(ev interface{}) {
	clientID := string(tab.ID)
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			// Listener callbacks run on the event loop; CDP commands issued
			// from it would deadlock.
			go c.handlePaused(router, tab, clientID, e)
		}
	}
}

func (c *Client) handlePaused(router Router, tab *Tab, clientID string, e *fetch.EventRequestPaused) {
	url := e.Request.URL + e.Request.URLFragment
	i, ok := router.Intercept(tab.ctx, clientID, url)
	if !ok {
		if err := chromedp.Run(tab.ctx, fetch.ContinueRequest(e.RequestID)); err != nil {
			slog.Debug("continue request failed", "target_id", tab.ID, "url", truncateURL(url), "error", err)
		}
		return
	}

	resp, err := router.Await(tab.ctx, i)
	if err != nil {
		slog.Warn("intercepted request failed", "target_id", tab.ID, "url", truncateURL(url), "error", err)
		if err := chromedp.Run(tab.ctx, fetch.FailRequest(e.RequestID, failureReason(err))); err != nil {
			slog.Debug("fail request failed", "target_id", tab.ID, "error", err)
		}
		return
	}

	fulfill := fetch.FulfillRequest(e.RequestID, int64(statusOrOK(resp.Status))).
		WithResponseHeaders(headerEntries(resp.Headers)).
		WithBody(base64.StdEncoding.EncodeToString(resp.Body))
	if resp.StatusText != "" {
		fulfill = fulfill.WithResponsePhrase(resp.StatusText)
	}
	if err := chromedp.Run(tab.ctx, fulfill); err != nil {
		slog.Warn("fulfill request failed", "target_id", tab.ID, "url", truncateURL(url), "error", err)
		return
	}
	slog.Debug("fulfilled intercepted request", "target_id", tab.ID, "url", truncateURL(url), "status", resp.Status, "bytes", len(resp.Body))
}

// Close detaches from all tabs and releases the allocator. A launched
// browser is shut down.
func (c *Client) Close() error {
	c.tabs.Clear()
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	slog.Info("CDP client closed")
	return nil
}

func (c *Client) GetTabCount() int {
	return c.tabs.Count()
}

func requestPatterns(icfg *config.InterceptConfig) []*fetch.RequestPattern {
	if icfg == nil || len(icfg.Patterns) == 0 {
		icfg = config.DefaultInterceptConfig()
	}
	out := make([]*fetch.RequestPattern, 0, len(icfg.Patterns))
	for _, p := range icfg.Patterns {
		rp := &fetch.RequestPattern{URLPattern: p.URLPattern, RequestStage: fetch.RequestStageRequest}
		if p.ResourceType != "" {
			rp.ResourceType = network.ResourceType(p.ResourceType)
		}
		out = append(out, rp)
	}
	return out
}

func headerEntries(h map[string]string) []*fetch.HeaderEntry {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*fetch.HeaderEntry, 0, len(names))
	for _, name := range names {
		out = append(out, &fetch.HeaderEntry{Name: name, Value: h[name]})
	}
	return out
}

func failureReason(err error) network.ErrorReason {
	switch {
	case worker.HasCode(err, worker.CodeFetchTimeout):
		return network.ErrorReasonTimedOut
	case worker.HasCode(err, worker.CodeDestroyed), worker.HasCode(err, worker.CodeSuperseded),
		worker.HasCode(err, worker.CodeFetchCanceled):
		return network.ErrorReasonAborted
	default:
		return network.ErrorReasonFailed
	}
}

func statusOrOK(status int) int {
	if status == 0 {
		return 200
	}
	return status
}

func matchesTabURL(filter, url string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(filter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
