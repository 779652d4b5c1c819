package provider

import (
	"context"
	"errors"

	"sidekick/internal/chat"
)

// ErrProvider marks backend failures (network, non-2xx, malformed
// body). The agent treats any error wrapping it as turn-ending.
var ErrProvider = errors.New("provider error")

// Request 封装一次模型调用
// Request wraps a single model call.
type Request struct {
	Model    string
	Messages []chat.Message
	Tools    []chat.ToolDef
}

// Response is the parsed model reply. ToolCalls is empty when the model
// stopped requesting actions.
type Response struct {
	Content      string
	ToolCalls    []chat.ToolCall
	FinishReason string
}

// Provider 模型后端接口；面向多 provider 扩展
// Provider is the model backend interface.
type Provider interface {
	Chat(ctx context.Context, req Request) (Response, error)
	Name() string
	CurrentModel() string
	SetModel(model string) error
}
