package specialist

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
)

const (
	inputKey   = "input"
	historyKey = "history"
)

// newTemplate renders system prompt, prior conversation and the JSON input.
// GoTemplate keeps the literal braces in the prompts intact.
func newTemplate(systemPrompt string) einoprompt.ChatTemplate {
	return einoprompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder(historyKey, true),
		schema.UserMessage("{{.input}}"),
	)
}

func compileTextGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", newTemplate(systemPrompt)); err != nil {
		return nil, fmt.Errorf("add text prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add text model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add text edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add text edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add text edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile text graph: %w", err)
	}
	return runner, nil
}

func compileStructuredLLMGraph[T any](
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, T], error) {
	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, T]()
	if err := graph.AddChatTemplateNode("prompt", newTemplate(systemPrompt)); err != nil {
		return nil, fmt.Errorf("add structured prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add structured model node: %w", err)
	}
	if err := graph.AddLambdaNode("extract_json", compose.InvokableLambda(
		func(ctx context.Context, msg *schema.Message) (*schema.Message, error) {
			if msg == nil {
				return nil, fmt.Errorf("%w: empty model reply", contractx.ErrSchemaViolation)
			}
			raw := extractJSON(msg.Content)
			if strings.TrimSpace(raw) == "" {
				return nil, fmt.Errorf("%w: reply has no JSON object", contractx.ErrSchemaViolation)
			}
			out := *msg
			out.Content = raw
			return &out, nil
		},
	)); err != nil {
		return nil, fmt.Errorf("add structured extract node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add structured parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add structured edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add structured edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "extract_json"); err != nil {
		return nil, fmt.Errorf("add structured edge model->extract: %w", err)
	}
	if err := graph.AddEdge("extract_json", "parse_json"); err != nil {
		return nil, fmt.Errorf("add structured edge extract->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add structured edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile structured graph: %w", err)
	}
	return runner, nil
}

// compileToolStepGraph wraps a tool-bound model as a single model turn over
// an explicit message list. The reasoning loop drives it repeatedly.
func compileToolStepGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	graphName string,
) (compose.Runnable[[]*schema.Message, *schema.Message], error) {
	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add tool step model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "model"); err != nil {
		return nil, fmt.Errorf("add tool step edge start->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add tool step edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile tool step graph: %w", err)
	}
	return runner, nil
}
