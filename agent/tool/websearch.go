package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
)

const (
	WebSearchCapability = "web_search"

	searchContextSize = "medium"
)

// Citation is a source the search model grounded its answer on.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type SearchResult struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations,omitempty"`
}

type Searcher interface {
	Search(ctx context.Context, query string) (SearchResult, error)
}

// WebSearcher runs grounded search through an OpenAI-compatible chat
// completions endpoint with web search options enabled.
type WebSearcher struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

func NewWebSearcher(client *openai.Client, model string, temperature float32, maxTokens int) *WebSearcher {
	return &WebSearcher{
		client:      client,
		model:       strings.TrimSpace(model),
		temperature: float64(temperature),
		maxTokens:   int64(maxTokens),
	}
}

func (w *WebSearcher) Search(ctx context.Context, query string) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{}, fmt.Errorf("%w: search query is empty", contractx.ErrValidation)
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(query),
		},
		Model:       w.model,
		Temperature: openai.Float(w.temperature),
		WebSearchOptions: openai.ChatCompletionNewParamsWebSearchOptions{
			SearchContextSize: searchContextSize,
		},
	}
	if w.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(w.maxTokens)
	}

	res, err := w.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return SearchResult{}, fmt.Errorf("%w: web search: %v", contractx.ErrLLMUnavailable, err)
	}
	if len(res.Choices) == 0 {
		return SearchResult{}, errors.New("web search returned no choices")
	}

	msg := res.Choices[0].Message
	out := SearchResult{Answer: strings.TrimSpace(msg.Content)}
	seen := map[string]bool{}
	for _, a := range msg.Annotations {
		url := strings.TrimSpace(a.URLCitation.URL)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		out.Citations = append(out.Citations, Citation{Title: strings.TrimSpace(a.URLCitation.Title), URL: url})
	}
	return out, nil
}

// WebSearch describes the search worker's single capability.
func WebSearch() contractx.Capability {
	return contractx.Capability{
		Name:        WebSearchCapability,
		Server:      "search",
		RemoteName:  WebSearchCapability,
		Description: "Search the web for current information and return a grounded answer with sources.",
		Params: map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "Search query", Required: true},
		},
	}
}

// BuildWebSearch binds the search worker to a searcher.
func BuildWebSearch(searcher Searcher) Set {
	return Set{
		Capabilities: []contractx.Capability{WebSearch()},
		Exec: func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
			if capability != WebSearchCapability {
				return contractx.ToolResult{}, fmt.Errorf("%w: %s", contractx.ErrCapabilityUnknown, capability)
			}
			query, _ := args["query"].(string)
			res, err := searcher.Search(ctx, query)
			if err != nil {
				return contractx.ToolResult{Capability: capability, Reason: err.Error()}, nil
			}
			return contractx.ToolResult{
				Capability: capability,
				OK:         true,
				Payload:    res,
				Text:       res.Render(),
			}, nil
		},
	}
}

// Render formats the answer followed by a numbered source list.
func (r SearchResult) Render() string {
	if len(r.Citations) == 0 {
		return r.Answer
	}
	var b strings.Builder
	b.WriteString(r.Answer)
	b.WriteString("\n\n출처:")
	for i, c := range r.Citations {
		title := c.Title
		if title == "" {
			title = c.URL
		}
		fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, title, c.URL)
	}
	return b.String()
}
