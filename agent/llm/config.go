package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Booking-Agent/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.7"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
	MaxSteps           int           `envconfig:"MAX_STEPS" split_words:"true" default:"12"`

	WhatsAppModel        string  `envconfig:"WHATSAPP_MODEL" split_words:"true"`
	InstagramModel       string  `envconfig:"INSTAGRAM_MODEL" split_words:"true"`
	WhatsAppTemperature  float32 `envconfig:"WHATSAPP_TEMPERATURE" split_words:"true" default:"-1"`
	InstagramTemperature float32 `envconfig:"INSTAGRAM_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(channel contractx.Channel) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch channel {
	case contractx.ChannelWhatsApp:
		if v := strings.TrimSpace(c.WhatsAppModel); v != "" {
			modelName = v
		}
		if c.WhatsAppTemperature >= 0 {
			temp = c.WhatsAppTemperature
		}
	case contractx.ChannelInstagram:
		if v := strings.TrimSpace(c.InstagramModel); v != "" {
			modelName = v
		}
		if c.InstagramTemperature >= 0 {
			temp = c.InstagramTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
