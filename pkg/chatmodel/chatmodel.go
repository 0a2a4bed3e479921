package chatmodel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrEndpointMissing is returned when neither a base URL nor a Google
// project is configured.
var ErrEndpointMissing = errors.New("llm endpoint is not configured")

type LLMBuilder interface {
	New(ctx context.Context) (model.ToolCallingChatModel, error)
}

var _ LLMBuilder = (*Config)(nil)

// Config describes one chat model against an OpenAI-compatible endpoint.
//
// The Vertex endpoint takes an OAuth2 access token as its bearer key, for
// example the output of `gcloud auth print-access-token`. GoogleAccessToken
// is used for that endpoint when APIKey is empty.
type Config struct {
	BaseURL           string
	APIKey            string
	GoogleProjectID   string
	GoogleRegion      string
	GoogleAccessToken string
	Model             string
	MaxTokens         *int
	Temperature       float32
	Timeout           time.Duration
}

// VertexBaseURL returns the OpenAI-compatible endpoint of Vertex AI for the
// given project and region.
func VertexBaseURL(projectID string, region string) string {
	region = strings.TrimSpace(region)
	if region == "" {
		region = "us-central1"
	}
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/endpoints/openapi",
		region, strings.TrimSpace(projectID), region,
	)
}

// Endpoint resolves the base URL. An explicit BaseURL wins over the
// project-derived Vertex endpoint.
func (c *Config) Endpoint() (string, error) {
	if trimmed := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); trimmed != "" {
		return trimmed, nil
	}
	if strings.TrimSpace(c.GoogleProjectID) != "" {
		return VertexBaseURL(c.GoogleProjectID, c.GoogleRegion), nil
	}
	return "", ErrEndpointMissing
}

// BearerKey returns the credential sent with each request.
func (c *Config) BearerKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return strings.TrimSpace(c.GoogleAccessToken)
	}
	return ""
}

func (c *Config) New(ctx context.Context) (model.ToolCallingChatModel, error) {
	baseURL, err := c.Endpoint()
	if err != nil {
		return nil, err
	}

	temp := c.Temperature
	conf := &openaimodel.ChatModelConfig{
		BaseURL:     baseURL,
		APIKey:      c.BearerKey(),
		Model:       strings.TrimSpace(c.Model),
		MaxTokens:   c.MaxTokens,
		Temperature: &temp,
		Timeout:     c.Timeout,
	}

	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("chatmodel: create chat model %s: %w", conf.Model, err)
	}

	return m, nil
}

// NewClient creates an OpenAI SDK client for calls the eino model does not
// expose, such as grounded web search.
func NewClient(cfg Config) (*openaisdk.Client, error) {
	baseURL, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
	}
	if key := cfg.BearerKey(); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := openaisdk.NewClient(opts...)
	return &client, nil
}
