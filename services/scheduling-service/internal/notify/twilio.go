package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the sending number in E.164 form. For WhatsApp it gets the
	// "whatsapp:" prefix when missing.
	From    string
	Channel Channel
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender sends SMS or WhatsApp messages through the Twilio REST API.
type TwilioSender struct {
	api  messageCreator
	from string
}

func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio credentials not configured")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("twilio from number not configured")
	}
	if cfg.Channel == ChannelWhatsApp && !strings.HasPrefix(from, whatsappPrefix) {
		from = whatsappPrefix + from
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, from: from}, nil
}

func (s *TwilioSender) ProviderID() string {
	return "twilio"
}

// Send ignores ctx beyond an early cancellation check; the Twilio client has no context support.
func (s *TwilioSender) Send(ctx context.Context, message string, destination string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(destination)
	params.SetFrom(s.from)
	params.SetBody(message)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}
