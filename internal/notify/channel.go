package notify

import "fmt"

// Channel is a delivery medium for collection outreach.
type Channel string

const (
	ChannelSMS       Channel = "sms"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelEmail     Channel = "email"
	ChannelPhoneCall Channel = "phonecall"
	ChannelLetter    Channel = "letter"
)

// AllChannels lists every known channel in display order.
var AllChannels = []Channel{ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelPhoneCall, ChannelLetter}

// Blocking reports whether a successful delivery on this channel is enough to
// advance a collection flow.
func (c Channel) Blocking() bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail:
		return true
	default:
		return false
	}
}

// Manual reports whether the channel is fulfilled outside automated delivery.
func (c Channel) Manual() bool {
	return c == ChannelPhoneCall || c == ChannelLetter
}

func (c Channel) Valid() bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

// ParseChannel validates a raw channel identifier.
func ParseChannel(raw string) (Channel, error) {
	ch := Channel(raw)
	if !ch.Valid() {
		return "", fmt.Errorf("notify: unknown channel %q", raw)
	}
	return ch, nil
}
