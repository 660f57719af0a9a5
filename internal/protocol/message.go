package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged over a dedicated page <-> worker channel.
const (
	TypeInit    = "init"
	TypeFetched = "fetched"
	TypeReady   = "ready"
	TypeFetch   = "fetch"
)

// Message is the JSON envelope for every frame on a port. Only the fields
// relevant to Type are populated.
type Message struct {
	Type string `json:"type"`

	// init
	StreamURL             string `json:"streamUrl,omitempty"`
	IsServiceWorkerActive bool   `json:"isServiceWorkerActive,omitempty"`
	ClientID              string `json:"clientId,omitempty"`

	// fetch, fetched
	URL               string      `json:"url,omitempty"`
	Response          *Response   `json:"response,omitempty"`
	Error             *FetchError `json:"error,omitempty"`
	// ManifestChildURLs is non-nil only when URL is a manifest. An empty
	// slice still marks a manifest and is encoded as [].
	ManifestChildURLs []string `json:"-"`

	// ready
	Version string `json:"version,omitempty"`
}

type wireMessage Message

// MarshalJSON encodes manifestChildUrls only for manifest replies, keeping an
// empty child set on the wire.
func (m Message) MarshalJSON() ([]byte, error) {
	out := struct {
		wireMessage
		ManifestChildURLs *[]string `json:"manifestChildUrls,omitempty"`
	}{wireMessage: wireMessage(m)}
	if m.ManifestChildURLs != nil {
		out.ManifestChildURLs = &m.ManifestChildURLs
	}
	return json.Marshal(out)
}

// UnmarshalJSON keeps a present manifestChildUrls non-nil even when empty.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in struct {
		wireMessage
		ManifestChildURLs *[]string `json:"manifestChildUrls"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Message(in.wireMessage)
	if in.ManifestChildURLs != nil {
		m.ManifestChildURLs = *in.ManifestChildURLs
		if m.ManifestChildURLs == nil {
			m.ManifestChildURLs = []string{}
		}
	}
	return nil
}

// Response is the settled result of an intercepted fetch.
type Response struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body,omitempty"`
}

// FetchError is the failure payload of a fetched message.
type FetchError struct {
	Message string `json:"message"`
}

func (e *FetchError) Error() string { return e.Message }

// Init builds the page -> worker registration message.
func Init(clientID, streamURL string, isServiceWorkerActive bool) Message {
	return Message{Type: TypeInit, ClientID: clientID, StreamURL: streamURL, IsServiceWorkerActive: isServiceWorkerActive}
}

// Fetched builds a successful settlement. childURLs marks url as a manifest
// when non-nil.
func Fetched(url string, resp *Response, childURLs []string) Message {
	return Message{Type: TypeFetched, URL: url, Response: resp, ManifestChildURLs: childURLs}
}

// Failed builds a failed settlement.
func Failed(url string, err error) Message {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Message{Type: TypeFetched, URL: url, Error: &FetchError{Message: msg}}
}

// Ready builds the worker -> page readiness notification.
func Ready(streamURL, version string) Message {
	return Message{Type: TypeReady, StreamURL: streamURL, Version: version}
}

// Fetch builds the worker -> page interception notification.
func Fetch(url string) Message {
	return Message{Type: TypeFetch, URL: url}
}

// Encode validates and marshals a message.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode unmarshals and validates a single frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the fields required by the message type.
func (m Message) Validate() error {
	switch m.Type {
	case TypeInit:
		if m.StreamURL == "" {
			return fmt.Errorf("protocol: init: missing streamUrl")
		}
	case TypeFetched, TypeFetch:
		if m.URL == "" {
			return fmt.Errorf("protocol: %s: missing url", m.Type)
		}
	case TypeReady:
	case "":
		return fmt.Errorf("protocol: missing type")
	default:
		return fmt.Errorf("protocol: unknown message type %q", m.Type)
	}
	return nil
}
