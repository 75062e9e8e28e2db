package assistant

import (
	"context"
	"errors"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/delivery"
	toolx "github.com/tanpawarit/Chative-Booking-Agent/agent/tool"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int
	inputs    [][]*schema.Message
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

type fakeMessenger struct {
	sent []contractx.SendRequest
}

func (f *fakeMessenger) Send(_ context.Context, req contractx.SendRequest) (contractx.SendResult, error) {
	f.sent = append(f.sent, req)
	return contractx.SendResult{}, nil
}

func testTools(t *testing.T) []einotool.BaseTool {
	t.Helper()
	catalog, err := toolx.New(toolx.Deps{Tracker: delivery.NewTracker(), Messenger: &fakeMessenger{}})
	if err != nil {
		t.Fatalf("tool.New() error = %v", err)
	}
	return catalog.EinoTools()
}

func sendCall(text string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:   "call-1",
			Type: "function",
			Function: schema.FunctionCall{
				Name:      toolx.ToolSendMessage,
				Arguments: `{"message":"` + text + `"}`,
			},
		}},
	}
}

func TestAssistantInvokeRunsSendTool(t *testing.T) {
	t.Parallel()

	tracker := delivery.NewTracker()
	release, err := tracker.Begin("req-1")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer release()

	messenger := &fakeMessenger{}
	catalog, err := toolx.New(toolx.Deps{Tracker: tracker, Messenger: messenger})
	if err != nil {
		t.Fatalf("tool.New() error = %v", err)
	}

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		sendCall("Olá! Como posso ajudar?"),
		schema.AssistantMessage("Olá! Como posso ajudar?", nil),
	}}
	a, err := newAssistant(context.Background(), contractx.ChannelWhatsApp, fake, catalog.EinoTools(), 6)
	if err != nil {
		t.Fatalf("newAssistant() error = %v", err)
	}

	ctx := toolx.WithScope(context.Background(), toolx.Scope{
		RequestID:   "req-1",
		Channel:     contractx.ChannelWhatsApp,
		OwnerID:     "instance_1",
		RecipientID: "5531@s.whatsapp.net",
	})
	out, err := a.Invoke(ctx, contractx.AgentRequest{
		Channel:      contractx.ChannelWhatsApp,
		SystemPrompt: "system",
		History: []contractx.Turn{
			{Role: contractx.RoleUser, Text: "oi"},
			{Role: contractx.RoleAssistant, Text: "olá"},
		},
		Message: "bom dia",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out != "Olá! Como posso ajudar?" {
		t.Fatalf("unexpected output: %q", out)
	}
	if !tracker.Sent("req-1") || len(messenger.sent) != 1 {
		t.Fatalf("expected exactly one tracked send, sent=%d", len(messenger.sent))
	}

	first := fake.inputs[0]
	if len(first) != 4 || first[0].Role != schema.System || first[2].Role != schema.Assistant || first[3].Content != "bom dia" {
		t.Fatalf("unexpected first model input: %+v", first)
	}
}

func TestAssistantInvokeWrapsModelError(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{err: errors.New("status 429: rate limit")}
	a, err := newAssistant(context.Background(), contractx.ChannelInstagram, fake, testTools(t), 0)
	if err != nil {
		t.Fatalf("newAssistant() error = %v", err)
	}

	_, err = a.Invoke(context.Background(), contractx.AgentRequest{SystemPrompt: "s", Message: "oi"})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestAssistantInvokeRequiresPrompt(t *testing.T) {
	t.Parallel()

	a, err := newAssistant(context.Background(), contractx.ChannelWhatsApp, &fakeToolCallingModel{}, testTools(t), 0)
	if err != nil {
		t.Fatalf("newAssistant() error = %v", err)
	}
	if _, err := a.Invoke(context.Background(), contractx.AgentRequest{Message: "oi"}); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("expected ErrPromptMissing, got %v", err)
	}
}

func TestRegistryFor(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistryWithModels(context.Background(), map[contractx.Channel]einomodel.ToolCallingChatModel{
		contractx.ChannelWhatsApp: &fakeToolCallingModel{},
	}, testTools(t), 0)
	if err != nil {
		t.Fatalf("NewRegistryWithModels() error = %v", err)
	}
	if _, err := reg.For(contractx.ChannelWhatsApp); err != nil {
		t.Fatalf("For(whatsapp) error = %v", err)
	}
	if _, err := reg.For(contractx.ChannelInstagram); !errors.Is(err, contractx.ErrUnsupportedChannel) {
		t.Fatalf("expected ErrUnsupportedChannel, got %v", err)
	}
}
