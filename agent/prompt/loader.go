package prompt

import (
	_ "embed"
	"strings"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

var (
	//go:embed template/whatsapp.txt
	whatsAppRaw string

	//go:embed template/instagram.txt
	instagramRaw string

	//go:embed template/protocol.txt
	protocolRaw string

	//go:embed template/forced_delivery.txt
	forcedDeliveryRaw string
)

// ForcedDeliveryDelimiter separates the instruction from the text that must be re-sent.
const ForcedDeliveryDelimiter = "----- TEXTO -----"

// PromptSet holds loaded prompt content.
type PromptSet struct {
	WhatsApp       string
	Instagram      string
	Protocol       string
	ForcedDelivery string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		WhatsApp:       strings.TrimSpace(whatsAppRaw),
		Instagram:      strings.TrimSpace(instagramRaw),
		Protocol:       strings.TrimSpace(protocolRaw),
		ForcedDelivery: strings.TrimSpace(forcedDeliveryRaw),
	}
}

// System builds the system prompt for a channel. An override replaces the persona but the
// tool protocol is always appended.
func (p PromptSet) System(channel contractx.Channel, override string) string {
	persona := strings.TrimSpace(override)
	if persona == "" {
		switch channel {
		case contractx.ChannelInstagram:
			persona = p.Instagram
		default:
			persona = p.WhatsApp
		}
	}
	return persona + "\n\n" + p.Protocol
}

// ForcedDeliveryMessage wraps text, unchanged, after the delimiter.
func (p PromptSet) ForcedDeliveryMessage(text string) string {
	return p.ForcedDelivery + "\n\n" + ForcedDeliveryDelimiter + "\n" + text
}
