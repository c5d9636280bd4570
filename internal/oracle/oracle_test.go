package oracle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simulant-labs/simulant/internal/oracle"
	"github.com/simulant-labs/simulant/internal/testutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*oracle.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := oracle.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "test-key"
	cfg.RetryPause = 5 * time.Millisecond
	return oracle.NewClient(cfg, &testutil.DummyLogger{}), srv
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode reply: %v", err)
	}
}

func TestAskParsesFencedDecision(t *testing.T) {
	var gotAuth string
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Content []struct {
				Type     string `json:"type"`
				ImageURL *struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		chatReply(t, w, "```json\n{\"thought\": \"the form has no labels\", \"bugs\": [{\"title\": \"Unlabeled inputs\", \"severity\": \"high\"}], \"action\": {\"type\": \"click\", \"target\": \"Send\"}}\n```")
	})

	d, err := client.Ask(context.Background(), "what next?", []byte("fake-png"))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if len(gotBody.Messages) != 1 || len(gotBody.Messages[0].Content) != 2 {
		t.Fatalf("expected one message with text + image, got %+v", gotBody.Messages)
	}
	img := gotBody.Messages[0].Content[1]
	if img.Type != "image_url" || img.ImageURL == nil || !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("screenshot part = %+v", img)
	}
	if len(d.Bugs) != 1 || d.Bugs[0].Severity != "high" {
		t.Errorf("bugs = %+v", d.Bugs)
	}
	if d.Action == nil || d.Action.Target != "Send" {
		t.Errorf("action = %+v", d.Action)
	}
}

func TestAskOmitsImagePartWithoutScreenshot(t *testing.T) {
	var parts int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content []json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) == 1 {
			parts = len(body.Messages[0].Content)
		}
		chatReply(t, w, `{"thought": "ok"}`)
	})

	if _, err := client.Ask(context.Background(), "prompt", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if parts != 1 {
		t.Errorf("content parts = %d, want 1", parts)
	}
}

func TestAskRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusBadGateway)
			return
		}
		chatReply(t, w, `{"thought": "second time lucky"}`)
	})

	d, err := client.Ask(context.Background(), "prompt", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if d.Thought != "second time lucky" {
		t.Errorf("thought = %q", d.Thought)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestAskExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		chatReply(t, w, "no structured payload here, sorry")
	})

	d, err := client.Ask(context.Background(), "prompt", nil)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if d != nil {
		t.Errorf("decision = %+v, want nil", d)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2 (configured attempts)", n)
	}
}

func TestAskStopsOnCancelledContext(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Ask(ctx, "prompt", nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
