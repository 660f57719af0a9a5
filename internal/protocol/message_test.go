package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{name: "init ok", in: `{"type":"init","streamUrl":"http://x/master.m3u8","isServiceWorkerActive":true}`},
		{name: "init missing stream", in: `{"type":"init"}`, wantErr: "missing streamUrl"},
		{name: "fetched missing url", in: `{"type":"fetched"}`, wantErr: "missing url"},
		{name: "fetch ok", in: `{"type":"fetch","url":"http://x/s1.ts"}`},
		{name: "ready ok", in: `{"type":"ready","streamUrl":"http://x/master.m3u8","version":"1"}`},
		{name: "unknown type", in: `{"type":"ping"}`, wantErr: "unknown message type"},
		{name: "no type", in: `{}`, wantErr: "missing type"},
		{name: "not json", in: `nope`, wantErr: "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Decode() error = %v; want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFetchedCarriesBodyAndChildren(t *testing.T) {
	data, err := Encode(Fetched("http://x/master.m3u8", &Response{Status: 200, Body: []byte("#EXTM3U")}, []string{"http://x/a.m3u8"}))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(data), `"manifestChildUrls":["http://x/a.m3u8"]`) {
		t.Fatalf("encoded message missing children: %s", data)
	}

	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Response == nil || string(m.Response.Body) != "#EXTM3U" {
		t.Fatalf("decoded response = %+v", m.Response)
	}
}

func TestFailedWrapsError(t *testing.T) {
	m := Failed("http://x/s1.ts", errors.New("peer gone"))
	if m.Error == nil || m.Error.Error() != "peer gone" {
		t.Fatalf("Failed() error payload = %+v", m.Error)
	}
	if m.Response != nil {
		t.Fatal("Failed() should not carry a response")
	}
}

func TestFetchedEmptyManifestSurvivesRoundTrip(t *testing.T) {
	data, err := Encode(Fetched("http://x/m.m3u8", &Response{Status: 200}, []string{}))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(data), `"manifestChildUrls":[]`) {
		t.Fatalf("empty child set dropped: %s", data)
	}

	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.ManifestChildURLs == nil || len(m.ManifestChildURLs) != 0 {
		t.Fatalf("ManifestChildURLs = %#v; want empty non-nil", m.ManifestChildURLs)
	}
	if m.Response == nil || m.Response.Status != 200 {
		t.Fatalf("decoded response = %+v", m.Response)
	}
}

func TestFetchedSegmentOmitsChildren(t *testing.T) {
	data, err := Encode(Fetched("http://x/s1.ts", &Response{Status: 200}, nil))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.Contains(string(data), "manifestChildUrls") {
		t.Fatalf("segment reply carries children: %s", data)
	}

	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.ManifestChildURLs != nil {
		t.Fatalf("ManifestChildURLs = %#v; want nil", m.ManifestChildURLs)
	}

	m, err = Decode([]byte(`{"type":"fetched","url":"http://x/s1.ts","manifestChildUrls":null}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.ManifestChildURLs != nil {
		t.Fatalf("null children = %#v; want nil", m.ManifestChildURLs)
	}
}
