package messaging

import (
	"context"
	"fmt"
	"html"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Twilio sends SMS and places voice calls that read a short script.
type Twilio struct {
	client *twilio.RestClient
	from   string
}

func NewTwilio(accountSID, authToken, from string) (*Twilio, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("%w: twilio credentials", ErrNotConfigured)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{client: client, from: from}, nil
}

func (t *Twilio) SendSMS(ctx context.Context, phone, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(t.from)
	params.SetBody(text)
	_, err := t.client.Api.CreateMessage(params)
	return transient("send sms", err)
}

func (t *Twilio) PlaceVoiceCall(ctx context.Context, phone, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(phone)
	params.SetFrom(t.from)
	params.SetTwiml(voiceTwiml(script))
	_, err := t.client.Api.CreateCall(params)
	return transient("place call", err)
}

func voiceTwiml(script string) string {
	return "<Response><Say>" + html.EscapeString(script) + "</Say></Response>"
}
