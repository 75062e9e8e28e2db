package assistant

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

const defaultMaxSteps = 12

// assistantImpl is the tool-calling agent for one channel. Tool calls within a turn run
// one at a time.
type assistantImpl struct {
	channel contractx.Channel
	agent   *react.Agent
}

var _ contractx.Invoker = (*assistantImpl)(nil)

func newAssistant(
	ctx context.Context,
	channel contractx.Channel,
	chatModel einomodel.ToolCallingChatModel,
	tools []einotool.BaseTool,
	maxSteps int,
) (*assistantImpl, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required for channel=%s", contractx.ErrValidation, channel)
	}
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	agent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools:               tools,
			ExecuteSequentially: true,
		},
		MaxStep: maxSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: build agent for channel=%s: %v", contractx.ErrModelInvoke, channel, err)
	}

	return &assistantImpl{channel: channel, agent: agent}, nil
}

// Invoke returns the agent's final text. Blank text is returned as-is; callers decide
// whether that is a failure.
func (a *assistantImpl) Invoke(ctx context.Context, req contractx.AgentRequest) (string, error) {
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return "", fmt.Errorf("%w: system prompt for channel=%s", contractx.ErrPromptMissing, a.channel)
	}

	msg, err := a.agent.Generate(ctx, buildMessages(req))
	if err != nil {
		return "", fmt.Errorf("%w: channel=%s: %w", contractx.ErrModelInvoke, a.channel, err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

func buildMessages(req contractx.AgentRequest) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(req.History)+2)
	msgs = append(msgs, schema.SystemMessage(req.SystemPrompt))
	for _, turn := range req.History {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		switch turn.Role {
		case contractx.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(text, nil))
		default:
			msgs = append(msgs, schema.UserMessage(text))
		}
	}
	msgs = append(msgs, schema.UserMessage(req.Message))
	return msgs
}
