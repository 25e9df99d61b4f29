package notify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

const whatsappPrefix = "whatsapp:"

func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case "", ChannelWhatsApp:
		return ChannelWhatsApp, nil
	case ChannelSMS:
		return ChannelSMS, nil
	}
	return "", fmt.Errorf("unknown notify channel %q", s)
}

var ErrInvalidPhone = errors.New("invalid phone number")

// Destination formats a stored phone number as E.164, prefixed with "whatsapp:" for the
// WhatsApp channel. Numbers without a leading "+" are read as national numbers of the
// region that owns countryCode.
func Destination(phone, countryCode string, channel Channel) (string, error) {
	region := "ZZ"
	if cc, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(countryCode), "+")); err == nil {
		region = phonenumbers.GetRegionCodeForCountryCode(cc)
	}
	num, err := phonenumbers.Parse(strings.TrimSpace(phone), region)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPhone, phone, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}

	dest := phonenumbers.Format(num, phonenumbers.E164)
	if channel == ChannelWhatsApp {
		dest = whatsappPrefix + dest
	}
	return dest, nil
}
