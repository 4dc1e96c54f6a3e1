package domain

// ChannelType is a notification delivery channel.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail      ChannelType = "email"
	ChannelTypeTelegram   ChannelType = "telegram"
	ChannelTypeMattermost ChannelType = "mattermost"
)

// IsValid checks if the channel type is known.
func (t ChannelType) IsValid() bool {
	switch t {
	case ChannelTypeEmail, ChannelTypeTelegram, ChannelTypeMattermost:
		return true
	}
	return false
}
