package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Envelope labels of NIP-01.
const (
	LabelEvent  = "EVENT"
	LabelReq    = "REQ"
	LabelClose  = "CLOSE"
	LabelOK     = "OK"
	LabelEOSE   = "EOSE"
	LabelClosed = "CLOSED"
	LabelNotice = "NOTICE"
	LabelAuth   = "AUTH"
)

// Envelope is a decoded relay to client message. Only the fields relevant to
// Label are set.
type Envelope struct {
	Label          string
	SubscriptionID string
	Event          *nostr.Event
	EventID        string
	OK             bool
	Reason         string
}

// ParseMessage decodes a relay to client message.
func ParseMessage(b []byte) (env *Envelope, err error) {
	var raw []json.RawMessage
	if err = json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("not a json array: %w", err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("envelope too short: %d elements", len(raw))
	}
	env = &Envelope{}
	if err = json.Unmarshal(raw[0], &env.Label); err != nil {
		return nil, fmt.Errorf("bad label: %w", err)
	}
	str := func(i int, dst *string) error {
		if i >= len(raw) {
			return fmt.Errorf("%s envelope missing element %d", env.Label, i)
		}
		return json.Unmarshal(raw[i], dst)
	}
	switch env.Label {
	case LabelEvent:
		if err = str(1, &env.SubscriptionID); err != nil {
			return
		}
		if len(raw) < 3 {
			return nil, fmt.Errorf("EVENT envelope missing event")
		}
		env.Event = &nostr.Event{}
		if err = json.Unmarshal(raw[2], env.Event); err != nil {
			return nil, fmt.Errorf("bad event: %w", err)
		}
	case LabelOK:
		if err = str(1, &env.EventID); err != nil {
			return
		}
		if len(raw) < 3 {
			return nil, fmt.Errorf("OK envelope missing status")
		}
		if err = json.Unmarshal(raw[2], &env.OK); err != nil {
			return
		}
		if len(raw) > 3 {
			err = str(3, &env.Reason)
		}
	case LabelEOSE:
		err = str(1, &env.SubscriptionID)
	case LabelClosed:
		if err = str(1, &env.SubscriptionID); err != nil {
			return
		}
		if len(raw) > 2 {
			err = str(2, &env.Reason)
		}
	case LabelNotice, LabelAuth:
		err = str(1, &env.Reason)
	default:
		return nil, fmt.Errorf("unknown envelope %q", env.Label)
	}
	if err != nil {
		return nil, err
	}
	return
}

func eventMessage(ev *nostr.Event) ([]byte, error) {
	return json.Marshal([]any{LabelEvent, ev})
}

func reqMessage(id string, filters nostr.Filters) ([]byte, error) {
	msg := make([]any, 0, 2+len(filters))
	msg = append(msg, LabelReq, id)
	for _, f := range filters {
		msg = append(msg, f)
	}
	return json.Marshal(msg)
}

func closeMessage(id string) ([]byte, error) {
	return json.Marshal([]any{LabelClose, id})
}
