package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
)

type fakeSearcher struct {
	res SearchResult
	err error
}

func (f fakeSearcher) Search(ctx context.Context, query string) (SearchResult, error) {
	return f.res, f.err
}

func newSearchServer(t *testing.T, status int, body string, seen *map[string]any) *openai.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := openai.NewClient(
		option.WithBaseURL(srv.URL+"/v1/"),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	return &client
}

const searchReply = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gemini-2.0-flash",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {
      "role": "assistant",
      "content": "서울의 현재 기온은 18도입니다.",
      "annotations": [
        {"type": "url_citation", "url_citation": {"start_index": 0, "end_index": 10, "title": "KMA", "url": "https://kma.go.kr"}},
        {"type": "url_citation", "url_citation": {"start_index": 0, "end_index": 10, "title": "KMA", "url": "https://kma.go.kr"}}
      ]
    }
  }]
}`

func TestWebSearcherParsesCitations(t *testing.T) {
	t.Parallel()

	var seen map[string]any
	client := newSearchServer(t, http.StatusOK, searchReply, &seen)
	searcher := NewWebSearcher(client, "gemini-2.0-flash", 0.1, 512)

	res, err := searcher.Search(context.Background(), "서울 날씨")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Answer != "서울의 현재 기온은 18도입니다." {
		t.Fatalf("unexpected answer: %q", res.Answer)
	}
	if len(res.Citations) != 1 || res.Citations[0].URL != "https://kma.go.kr" {
		t.Fatalf("expected one deduplicated citation, got %#v", res.Citations)
	}
	if _, ok := seen["web_search_options"]; !ok {
		t.Fatalf("request did not enable web search: %#v", seen)
	}
	if seen["model"] != "gemini-2.0-flash" {
		t.Fatalf("unexpected model: %v", seen["model"])
	}
}

func TestWebSearcherUpstreamFailure(t *testing.T) {
	t.Parallel()

	client := newSearchServer(t, http.StatusInternalServerError, `{"error":{"message":"boom"}}`, nil)
	searcher := NewWebSearcher(client, "m", 0.1, 0)

	_, err := searcher.Search(context.Background(), "anything")
	if !errors.Is(err, contractx.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
}

func TestWebSearcherRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	searcher := NewWebSearcher(nil, "m", 0.1, 0)
	if _, err := searcher.Search(context.Background(), "  "); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBuildWebSearch(t *testing.T) {
	t.Parallel()

	set := BuildWebSearch(fakeSearcher{res: SearchResult{
		Answer:    "answer",
		Citations: []Citation{{Title: "Src", URL: "https://example.com"}},
	}})
	if !set.Allows(WebSearchCapability) || len(set.Infos()) != 1 {
		t.Fatalf("unexpected set: %#v", set.Capabilities)
	}

	out, err := set.Exec(context.Background(), WebSearchCapability, map[string]any{"query": "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK || !strings.Contains(out.Text, "1. Src (https://example.com)") {
		t.Fatalf("unexpected result: %#v", out)
	}

	failing := BuildWebSearch(fakeSearcher{err: errors.New("quota")})
	out, err = failing.Exec(context.Background(), WebSearchCapability, map[string]any{"query": "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Reason != "quota" {
		t.Fatalf("expected failed result with reason, got %#v", out)
	}

	if _, err := set.Exec(context.Background(), "other", nil); !errors.Is(err, contractx.ErrCapabilityUnknown) {
		t.Fatalf("expected ErrCapabilityUnknown, got %v", err)
	}
}
