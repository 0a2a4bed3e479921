package toolserver

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/mcp"
)

type rawObjectSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// argumentSchema converts the JSON schema a tool server advertises into the
// parameter form chat models bind.
func argumentSchema(tool mcp.Tool) (map[string]*schema.ParameterInfo, error) {
	props := tool.InputSchema.Properties
	required := tool.InputSchema.Required

	if len(props) == 0 && len(tool.RawInputSchema) > 0 {
		var raw rawObjectSchema
		if err := json.Unmarshal(tool.RawInputSchema, &raw); err != nil {
			return nil, fmt.Errorf("decode input schema of %s: %w", tool.Name, err)
		}
		props, required = raw.Properties, raw.Required
	}

	return objectParams(props, required), nil
}

func objectParams(props map[string]any, required []string) map[string]*schema.ParameterInfo {
	if len(props) == 0 {
		return nil
	}
	req := make(map[string]bool, len(required))
	for _, name := range required {
		req[name] = true
	}

	out := make(map[string]*schema.ParameterInfo, len(props))
	for name, def := range props {
		node, _ := def.(map[string]any)
		info := paramInfo(node)
		info.Required = req[name]
		out[name] = info
	}
	return out
}

func paramInfo(node map[string]any) *schema.ParameterInfo {
	info := &schema.ParameterInfo{Type: dataType(node["type"])}
	if desc, ok := node["description"].(string); ok {
		info.Desc = desc
	}
	if values, ok := node["enum"].([]any); ok {
		for _, v := range values {
			info.Enum = append(info.Enum, fmt.Sprint(v))
		}
	}

	switch info.Type {
	case schema.Array:
		items, _ := node["items"].(map[string]any)
		info.ElemInfo = paramInfo(items)
	case schema.Object:
		props, _ := node["properties"].(map[string]any)
		info.SubParams = objectParams(props, stringList(node["required"]))
	}
	return info
}

func dataType(v any) schema.DataType {
	switch v {
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
