package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	EventChargeSuccess   = "charge.success"
	EventChargeFailed    = "charge.failed"
	EventTransferSuccess = "transfer.success"
)

var ErrMalformedEvent = errors.New("malformed webhook event")

// Event is a provider callback envelope.
type Event struct {
	Type   string
	Result Result
}

type eventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type transactionData struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
}

// ParseEvent decodes a callback body. Call it only after the signature has
// been verified.
func ParseEvent(body []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: event type missing", ErrMalformedEvent)
	}

	ev := &Event{Type: env.Event}
	ev.Result.RawPayload = json.RawMessage(body)

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ev, nil
	}

	var data transactionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: data: %w", ErrMalformedEvent, err)
	}

	ev.Result.Reference = data.Reference
	ev.Result.Amount = FromMinorUnits(data.Amount)
	ev.Result.Currency = strings.ToUpper(data.Currency)
	ev.Result.Message = data.GatewayResponse

	switch env.Event {
	case EventChargeSuccess:
		ev.Result.Status = StatusSuccess
	case EventChargeFailed:
		ev.Result.Status = StatusFailed
	default:
		ev.Result.Status = normalizeStatus(data.Status)
	}

	return ev, nil
}
