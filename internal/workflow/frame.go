package workflow

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Marker lines, matched exactly.
const (
	MarkerMessage   = "event: Message"
	MarkerInterrupt = "event: Interrupt"

	dataPrefix = "data:"
)

// Message is the payload of a Message event.
type Message struct {
	// Content is the raw content text. When the workflow emits a JSON
	// object instead of a string, Content holds its encoding.
	Content      string
	NodeIsFinish bool
}

// Envelope returns the content as a command envelope when it is a JSON
// object carrying a "type" field.
func (m Message) Envelope() ([]byte, bool) {
	raw := bytes.TrimSpace([]byte(m.Content))
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false
	}
	if _, ok := probe["type"]; !ok {
		return nil, false
	}
	return raw, true
}

func framePayload(line string) ([]byte, error) {
	if !strings.HasPrefix(line, dataPrefix) {
		return nil, errors.Wrapf(ErrMalformedFrame, "expected %q prefix", dataPrefix)
	}
	return []byte(strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))), nil
}

// ParseMessage parses a Message data line.
func ParseMessage(line string) (Message, error) {
	payload, err := framePayload(line)
	if err != nil {
		return Message{}, err
	}

	var frame struct {
		Content      json.RawMessage `json:"content"`
		NodeIsFinish *bool           `json:"node_is_finish"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Message{}, errors.Wrapf(ErrMalformedFrame, "message payload: %v", err)
	}
	if len(frame.Content) == 0 || string(frame.Content) == "null" {
		return Message{}, errors.Wrap(ErrMalformedFrame, "message payload has no content")
	}

	msg := Message{NodeIsFinish: true}
	if frame.NodeIsFinish != nil {
		msg.NodeIsFinish = *frame.NodeIsFinish
	}
	var text string
	if err := json.Unmarshal(frame.Content, &text); err == nil {
		msg.Content = text
	} else {
		msg.Content = string(frame.Content)
	}
	return msg, nil
}

// ParseInterrupt parses an Interrupt data line into a resume token.
// event_id and type are accepted as JSON strings or numbers.
func ParseInterrupt(line string) (ResumeToken, error) {
	payload, err := framePayload(line)
	if err != nil {
		return ResumeToken{}, err
	}

	var frame struct {
		InterruptData *struct {
			EventID json.RawMessage `json:"event_id"`
			Type    json.RawMessage `json:"type"`
		} `json:"interrupt_data"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return ResumeToken{}, errors.Wrapf(ErrMalformedFrame, "interrupt payload: %v", err)
	}
	if frame.InterruptData == nil {
		return ResumeToken{}, errors.Wrap(ErrMalformedFrame, "interrupt payload has no interrupt_data")
	}

	eventID, err := scalarString(frame.InterruptData.EventID)
	if err != nil || eventID == "" {
		return ResumeToken{}, errors.Wrap(ErrMalformedFrame, "interrupt payload has no event_id")
	}
	typeStr, err := scalarString(frame.InterruptData.Type)
	if err != nil {
		return ResumeToken{}, errors.Wrap(ErrMalformedFrame, "interrupt payload has no type")
	}
	interruptType, err := strconv.Atoi(typeStr)
	if err != nil {
		return ResumeToken{}, errors.Wrapf(ErrMalformedFrame, "interrupt type %q", typeStr)
	}

	return ResumeToken{EventID: eventID, InterruptType: interruptType}, nil
}

// scalarString renders a JSON string or number as text.
func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
