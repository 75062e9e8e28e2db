package prompt

import (
	"strings"
	"testing"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

func TestLoadPromptSetNonEmpty(t *testing.T) {
	t.Parallel()

	p := LoadPromptSet()
	if p.WhatsApp == "" || p.Instagram == "" || p.Protocol == "" || p.ForcedDelivery == "" {
		t.Fatalf("embedded prompts must not be empty: %+v", p)
	}
}

func TestSystemAlwaysAppendsProtocol(t *testing.T) {
	t.Parallel()

	p := LoadPromptSet()
	for _, tc := range []struct {
		channel  contractx.Channel
		override string
		persona  string
	}{
		{contractx.ChannelWhatsApp, "", p.WhatsApp},
		{contractx.ChannelInstagram, "", p.Instagram},
		{contractx.ChannelWhatsApp, "Você é a Lia da Clínica Sorriso.", "Você é a Lia da Clínica Sorriso."},
	} {
		got := p.System(tc.channel, tc.override)
		if !strings.HasPrefix(got, tc.persona) {
			t.Fatalf("System(%s) must start with persona, got %q", tc.channel, got)
		}
		if !strings.HasSuffix(got, p.Protocol) {
			t.Fatalf("System(%s) must end with the tool protocol", tc.channel)
		}
	}
}

func TestForcedDeliveryRoundTripIsVerbatim(t *testing.T) {
	t.Parallel()

	p := LoadPromptSet()
	text := "  Olá!\n\nSeu horário: 10/03 às 14:00 😊  "
	msg := p.ForcedDeliveryMessage(text)
	_, got, ok := strings.Cut(msg, ForcedDeliveryDelimiter+"\n")
	if !ok {
		t.Fatal("delimiter not found")
	}
	if got != text {
		t.Fatalf("text changed: %q != %q", got, text)
	}
}
