package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// maxHistory bounds how many prior turns are replayed to a model.
const maxHistory = 20

// toSchemaHistory keeps the user and assistant messages of prior turns.
func toSchemaHistory(history []statex.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case statex.RoleUser:
			out = append(out, schema.UserMessage(content))
		case statex.RoleAssistant:
			out = append(out, &schema.Message{Role: schema.Assistant, Content: content, Name: m.Name})
		}
	}
	if len(out) > maxHistory {
		out = out[len(out)-maxHistory:]
	}
	return out
}

func marshalInput(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal model input: %v", contractx.ErrValidation, err)
	}
	return string(raw), nil
}

func templateVars(input string, history []statex.Message) map[string]any {
	return map[string]any{
		inputKey:   input,
		historyKey: toSchemaHistory(history),
	}
}

// withCallTimeout bounds one model call. The parent deadline still wins when
// it is earlier.
func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// stepView is the compact form of a plan step shown to models.
type stepView struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Agent       string `json:"agent"`
	Status      string `json:"status"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
}

func viewSteps(plan []statex.TaskStep, results map[int]*statex.StepResult) []stepView {
	out := make([]stepView, 0, len(plan))
	for i, step := range plan {
		v := stepView{
			Index:       i,
			Description: step.Description,
			Agent:       step.Agent,
			Status:      string(step.Status),
			Error:       step.Error,
		}
		if res := results[i]; res != nil {
			v.Result = res.Content
		} else {
			v.Result = step.Response
		}
		out = append(out, v)
	}
	return out
}
