package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/db3-network/db3-go/internal/errs"
)

func newTestTransport(t *testing.T, handler http.Handler) *HTTP {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	transport, err := NewHTTP(HTTPConfig{BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("failed to construct transport: %v", err)
	}
	return transport
}

func TestSendMutationPostsSubmission(t *testing.T) {
	var received Submission
	transport := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/mutations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Response{Code: CodeAccepted, ID: "m1", Items: []Item{{Key: "database", Value: "0xabc"}}})
	}))

	response, err := transport.SendMutation(context.Background(), Submission{
		Payload: []byte{0x01, 0x02},
		Nonce:   "4",
		Address: "0x01",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !response.Accepted() || response.ID != "m1" {
		t.Fatalf("unexpected response %+v", response)
	}
	if value, ok := response.ItemValue("database"); !ok || value != "0xabc" {
		t.Fatalf("unexpected item lookup %q %v", value, ok)
	}
	if string(received.Payload) != "\x01\x02" || received.Nonce != "4" {
		t.Fatalf("unexpected submission %+v", received)
	}
}

func TestRejectionIsAResponseNotAnError(t *testing.T) {
	transport := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Code: CodeRejected, Message: "nope"})
	}))

	response, err := transport.SendMutation(context.Background(), Submission{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Accepted() || response.Message != "nope" {
		t.Fatalf("unexpected response %+v", response)
	}
}

func TestServerErrorsBecomeTransportErrors(t *testing.T) {
	transport := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, err := transport.SendMutation(context.Background(), Submission{}); !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := transport.GetNonce(context.Background(), "0x01"); !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestMalformedBodyIsTransportError(t *testing.T) {
	transport := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))

	if _, err := transport.SendMutation(context.Background(), Submission{}); !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestContextTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	transport := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := transport.SendMutation(ctx, Submission{})
	if !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to be wrapped, got %v", err)
	}
}

func TestReadEndpoints(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/accounts/0xabc/nonce", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(NonceResponse{Nonce: "9"})
	})
	mux.HandleFunc("/v2/mutations/m1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(MutationHeader{ID: "m1", Nonce: "0"})
	})
	mux.HandleFunc("/v2/mutations/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/v2/mutations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") != "2" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(HeadersResponse{Headers: []MutationHeader{{ID: "m3"}, {ID: "m4"}}})
	})
	mux.HandleFunc("/v2/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(NodeStatus{Version: "dev", MutationCount: 4, StartedAt: started})
	})
	transport := newTestTransport(t, mux)
	ctx := context.Background()

	nonce, err := transport.GetNonce(ctx, "0xabc")
	if err != nil || nonce != "9" {
		t.Fatalf("unexpected nonce %q: %v", nonce, err)
	}
	header, err := transport.GetMutationHeader(ctx, "m1")
	if err != nil || header.ID != "m1" {
		t.Fatalf("unexpected header %+v: %v", header, err)
	}
	if _, err := transport.GetMutationHeader(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	headers, err := transport.ScanMutationHeaders(ctx, 2, 5)
	if err != nil || len(headers) != 2 {
		t.Fatalf("unexpected headers %+v: %v", headers, err)
	}
	status, err := transport.GetStatus(ctx)
	if err != nil || status.MutationCount != 4 || !status.StartedAt.Equal(started) {
		t.Fatalf("unexpected status %+v: %v", status, err)
	}
}

func TestNewHTTPRejectsRelativeURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "localhost:8080", "/v2"} {
		if _, err := NewHTTP(HTTPConfig{BaseURL: raw}); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %q, got %v", raw, err)
		}
	}
}
