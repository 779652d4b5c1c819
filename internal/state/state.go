package state

import (
	"encoding/json"
	"strings"
	"time"

	"sidekick/internal/chat"
)

// Mode 当前会话的操作模式，决定工具可见性与审批策略
// Mode is the session operating mode gating tool visibility and approval.
type Mode string

const (
	ModePlan Mode = "plan"
	ModeAct  Mode = "act"
	ModeBash Mode = "bash"
)

// ParseMode normalizes a user-supplied mode name.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModePlan:
		return ModePlan, true
	case ModeAct:
		return ModeAct, true
	case ModeBash:
		return ModeBash, true
	}
	return "", false
}

func (m Mode) String() string { return string(m) }

// Role is a conversation message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested tool invocation with decoded arguments.
// The ID correlates the call with its eventual ToolResult.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult records the outcome of executing one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Result     string `json:"result"`
	Success    bool   `json:"success"`
}

// Message 会话中的一条消息，附带时间戳；顺序即发往模型的顺序
// Message is one conversation entry with a timestamp; list order is the
// exact order replayed to the model.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Timestamp  string      `json:"timestamp"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Wire converts the message to the OpenAI-compatible API shape.
// Tool-result messages take the tool role with the correlating call ID;
// tool-call arguments are re-encoded as a JSON string.
func (m Message) Wire() chat.Message {
	out := chat.Message{
		Role:    string(m.Role),
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		out.ToolCalls = append(out.ToolCalls, chat.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: chat.ToolCallFunction{
				Name:      tc.Name,
				Arguments: string(args),
			},
		})
	}
	if m.ToolResult != nil {
		out.Role = string(RoleTool)
		out.ToolCallID = m.ToolResult.ToolCallID
		out.Name = m.ToolResult.Name
		out.Content = m.ToolResult.Result
	}
	return out
}

// Conversation owns the ordered message history plus session identity
// (mode, working directory, provider/model). Append-only between clears.
type Conversation struct {
	messages []Message
	mode     Mode
	workdir  string
	provider string
	model    string
}

func NewConversation(workdir string) *Conversation {
	return &Conversation{
		mode:    ModeAct,
		workdir: workdir,
	}
}

func (c *Conversation) Mode() Mode        { return c.mode }
func (c *Conversation) SetMode(m Mode)    { c.mode = m }
func (c *Conversation) Workdir() string   { return c.workdir }
func (c *Conversation) Provider() string  { return c.provider }
func (c *Conversation) Model() string     { return c.model }
func (c *Conversation) Len() int          { return len(c.messages) }
func (c *Conversation) SetProvider(name, model string) {
	c.provider = name
	c.model = model
}

// Messages returns a copy of the history; callers cannot reorder the
// transcript through it.
func (c *Conversation) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

func (c *Conversation) append(msg Message) Message {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	c.messages = append(c.messages, msg)
	return msg
}

func (c *Conversation) AddUser(content string) Message {
	return c.append(Message{Role: RoleUser, Content: content})
}

func (c *Conversation) AddAssistant(content string, calls []ToolCall) Message {
	return c.append(Message{Role: RoleAssistant, Content: content, ToolCalls: calls})
}

func (c *Conversation) AddSystem(content string) Message {
	return c.append(Message{Role: RoleSystem, Content: content})
}

func (c *Conversation) AddToolResult(res ToolResult) Message {
	r := res
	return c.append(Message{Role: RoleTool, Content: res.Result, ToolResult: &r})
}

// Clear drops the history; mode and identity fields survive a /clear.
func (c *Conversation) Clear() {
	c.messages = c.messages[:0]
}

// WireMessages renders the full history in API order.
func (c *Conversation) WireMessages() []chat.Message {
	out := make([]chat.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Wire())
	}
	return out
}

// Snapshot 会话的可序列化快照，用于 checkpoint；往返必须无损
// Snapshot is the serializable form used for checkpointing. The
// Snapshot/Restore round trip is lossless for role, content, tool
// calls, tool results and timestamps.
type Snapshot struct {
	Mode             string    `json:"mode"`
	WorkingDirectory string    `json:"working_directory"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
}

func (c *Conversation) Snapshot() Snapshot {
	return Snapshot{
		Mode:             string(c.mode),
		WorkingDirectory: c.workdir,
		Provider:         c.provider,
		Model:            c.model,
		Messages:         append([]Message(nil), c.messages...),
	}
}

func (c *Conversation) Restore(s Snapshot) {
	if mode, ok := ParseMode(s.Mode); ok {
		c.mode = mode
	}
	if s.WorkingDirectory != "" {
		c.workdir = s.WorkingDirectory
	}
	c.provider = s.Provider
	c.model = s.Model
	c.messages = append(c.messages[:0], s.Messages...)
}
