// Package origin resolves fetch notifications straight from the origin
// server. It stands in for a peer-to-peer engine in the page binary.
package origin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
)

const maxBodyBytes = 64 << 20

// Resolver fetches URLs over HTTP and reports the children of HLS playlists.
type Resolver struct {
	client *http.Client
}

// NewResolver creates a resolver. A nil client uses http.DefaultClient.
func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{client: client}
}

// Resolve fetches rawURL. children is non-nil only for HLS playlists.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*protocol.Response, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("origin: %w", err)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("origin: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("origin: read %s: %w", rawURL, err)
	}

	resp := &protocol.Response{
		Status:     res.StatusCode,
		StatusText: strings.TrimSpace(strings.TrimPrefix(res.Status, fmt.Sprint(res.StatusCode))),
		Headers:    flattenHeaders(res.Header),
		Body:       body,
	}

	var children []string
	if res.StatusCode < 300 && isPlaylist(rawURL, res.Header.Get("Content-Type"), body) {
		children, err = PlaylistChildren(rawURL, body)
		if err != nil {
			slog.Warn("playlist not decodable, declaring no children", "url", rawURL, "error", err)
			children = []string{}
		}
		slog.Debug("playlist resolved", "url", rawURL, "children", len(children))
	}
	return resp, children, nil
}

// PlaylistChildren returns the absolute URIs referenced by an HLS playlist.
// For a master playlist these are the variant streams and EXT-X-MEDIA
// renditions; for a media playlist the segments with their EXT-X-KEY and
// EXT-X-MAP URIs.
func PlaylistChildren(base string, playlist []byte) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("origin: playlist url: %w", err)
	}

	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(playlist), false)
	if err != nil {
		return nil, fmt.Errorf("origin: decode playlist: %w", err)
	}

	seen := make(map[string]struct{})
	out := []string{}
	add := func(ref string) {
		if ref == "" {
			return
		}
		u, err := url.Parse(ref)
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(u).String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}

	switch listType {
	case m3u8.MASTER:
		master := p.(*m3u8.MasterPlaylist)
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			for _, alt := range v.Alternatives {
				if alt != nil {
					add(alt.URI)
				}
			}
			add(v.URI)
		}
	case m3u8.MEDIA:
		media := p.(*m3u8.MediaPlaylist)
		if media.Map != nil {
			add(media.Map.URI)
		}
		if media.Key != nil {
			add(media.Key.URI)
		}
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			if seg.Map != nil {
				add(seg.Map.URI)
			}
			if seg.Key != nil {
				add(seg.Key.URI)
			}
			add(seg.URI)
		}
	}
	return out, nil
}

func isPlaylist(rawURL, contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	if u, err := url.Parse(rawURL); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("#EXTM3U"))
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
