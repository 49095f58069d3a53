package usecase

import (
	"encoding/json"
	"strings"

	"wa-relay/internal/domain"
)

// webhookPayload mirrors the slice of the Cloud API notification that the
// relay reads: entry[0].changes[0].value.messages[0].
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []*webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (p *webhookPayload) firstMessage() *webhookMessage {
	if p == nil || len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil
	}
	msgs := p.Entry[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return nil
	}
	return msgs[0]
}

// parseInbound decodes a webhook body into the single message it carries.
// Only the first message of the first change of the first entry is read.
func parseInbound(body []byte) (domain.InboundMessage, error) {
	var payload *webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.InboundMessage{}, newError(ErrorMalformedPayload, "invalid_json", err)
	}
	msg := payload.firstMessage()
	if msg == nil {
		return domain.InboundMessage{}, newError(ErrorMalformedPayload, "no_message", nil)
	}

	in := domain.InboundMessage{
		SenderID:  msg.From,
		MessageID: strings.TrimSpace(msg.ID),
	}
	if msg.Text != nil {
		in.Text = strings.TrimSpace(msg.Text.Body)
	}
	if in.Text == "" || in.SenderID == "" {
		return domain.InboundMessage{}, newError(ErrorInvalidMessage, "invalid_message_format", nil)
	}
	return in, nil
}
