package assistant

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	llmx "github.com/tanpawarit/Chative-Booking-Agent/agent/llm"
)

type registryImpl struct {
	invokers map[contractx.Channel]contractx.Invoker
}

func (r *registryImpl) For(channel contractx.Channel) (contractx.Invoker, error) {
	inv, ok := r.invokers[channel]
	if !ok || inv == nil {
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnsupportedChannel, channel)
	}
	return inv, nil
}

// NewRegistry builds one assistant per channel, each on its own model configuration.
func NewRegistry(ctx context.Context, cfg llmx.Config, tools []einotool.BaseTool) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	models := make(map[contractx.Channel]einomodel.ToolCallingChatModel, 2)
	for _, channel := range []contractx.Channel{contractx.ChannelWhatsApp, contractx.ChannelInstagram} {
		modelCfg := cfg.OpenRouterFor(channel)
		m, err := modelCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, channel, err)
		}
		models[channel] = m
	}
	return NewRegistryWithModels(ctx, models, tools, cfg.MaxSteps)
}

func NewRegistryWithModels(
	ctx context.Context,
	models map[contractx.Channel]einomodel.ToolCallingChatModel,
	tools []einotool.BaseTool,
	maxSteps int,
) (contractx.Registry, error) {
	invokers := make(map[contractx.Channel]contractx.Invoker, len(models))
	for channel, m := range models {
		a, err := newAssistant(ctx, channel, m, tools, maxSteps)
		if err != nil {
			return nil, err
		}
		invokers[channel] = a
	}
	return &registryImpl{invokers: invokers}, nil
}

// NewStaticRegistry serves prebuilt invokers.
func NewStaticRegistry(invokers map[contractx.Channel]contractx.Invoker) contractx.Registry {
	return &registryImpl{invokers: invokers}
}
