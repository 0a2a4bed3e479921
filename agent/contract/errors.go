package contract

import (
	"errors"

	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

var (
	ErrInputInvalid          = errors.New("input invalid")
	ErrCapabilityUnknown     = errors.New("capability unknown")
	ErrToolServerUnavailable = errors.New("tool server unavailable")
	ErrToolInvocationFailed  = errors.New("tool invocation failed")
	ErrLLMUnavailable        = errors.New("llm unavailable")
	ErrGraphDeadlineExceeded = errors.New("graph deadline exceeded")
	ErrInvariantViolation    = statex.ErrInvariantViolation

	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
)
