package reply

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/zhouzirui/echoes/backend/internal/model/session"
)

const historyLimit = 10

type requestKey struct{}

// ScriptedModel is an eino chat model whose "generation" is delegated to a Strategy.
type ScriptedModel struct {
	inner Strategy
}

var _ model.ChatModel = (*ScriptedModel)(nil)

// NewScriptedModel wraps inner as an eino chat model.
func NewScriptedModel(inner Strategy) *ScriptedModel {
	return &ScriptedModel{inner: inner}
}

// Generate answers the last user message in input.
func (m *ScriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	req, ok := ctx.Value(requestKey{}).(Request)
	if !ok {
		req = requestFromMessages(input)
	}
	text, err := m.inner.Reply(ctx, req)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream returns the Generate result as a single-chunk stream.
func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is a no-op; scripted replies never call tools.
func (m *ScriptedModel) BindTools([]*schema.ToolInfo) error {
	return nil
}

func requestFromMessages(input []*schema.Message) Request {
	var req Request
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != nil && input[i].Role == schema.User {
			req.UserText = input[i].Content
			break
		}
	}
	return req
}

// Chain runs replies through an eino chain: persona prompt template, then the chat model.
type Chain struct {
	system   string
	runnable compose.Runnable[map[string]any, *schema.Message]
}

// NewChain compiles a chain around a scripted model backed by inner.
func NewChain(ctx context.Context, systemPrompt string, inner Strategy) (*Chain, error) {
	return NewChainWithModel(ctx, systemPrompt, NewScriptedModel(inner))
}

// NewChainWithModel compiles a chain around an arbitrary eino chat model.
func NewChainWithModel(ctx context.Context, systemPrompt string, chatModel model.BaseChatModel) (*Chain, error) {
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "compile reply chain")
	}
	return &Chain{system: systemPrompt, runnable: runnable}, nil
}

// Reply implements Strategy.
func (c *Chain) Reply(ctx context.Context, req Request) (string, error) {
	input := map[string]any{
		"system":  c.system,
		"history": historyMessages(req.History),
		"query":   req.UserText,
	}
	msg, err := c.runnable.Invoke(context.WithValue(ctx, requestKey{}, req), input)
	if err != nil {
		return "", errors.Wrap(err, "run reply chain")
	}
	if msg == nil {
		return "", ErrNoReply
	}
	return msg.Content, nil
}

func historyMessages(messages []session.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}
	start := 0
	if len(messages) > historyLimit {
		start = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		switch msg.Sender {
		case session.User:
			history = append(history, schema.UserMessage(msg.Text))
		case session.Remote:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
