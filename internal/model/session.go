package model

import "strings"

// Session carries the signed-in user's identity and contact details. It is
// handed to components at construction instead of living in a global.
type Session struct {
	UserID     string
	Phone      string
	Email      string
	ChatID     string
	PushToken  string
	Subscribed bool
}

// ContactFor returns the address a channel delivers to, or false when the
// session lacks it. Push needs no contact beyond the device token held by
// the push sender.
func (s Session) ContactFor(ch Channel) (string, bool) {
	var v string
	switch ch {
	case ChannelAppPush:
		return s.PushToken, true
	case ChannelSMS, ChannelPhoneCall:
		v = s.Phone
	case ChannelEmail:
		v = s.Email
	case ChannelChat:
		v = s.ChatID
	default:
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
