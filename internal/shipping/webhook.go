package shipping

import (
	"encoding/json"
	"fmt"
	"strings"

	"returns-credit-backend/internal/domain"
)

// Signal is a carrier status reduced to what the return lifecycle acts on.
type Signal string

const (
	SignalScheduled Signal = "scheduled"
	SignalInTransit Signal = "in_transit"
	SignalDelivered Signal = "delivered"
	SignalFailed    Signal = "failed"
)

var shiprocketStatuses = map[string]Signal{
	"PICKUP SCHEDULED":   SignalScheduled,
	"PICKUP GENERATED":   SignalScheduled,
	"OUT FOR PICKUP":     SignalScheduled,
	"PICKUP RESCHEDULED": SignalScheduled,

	"PICKED UP":                  SignalInTransit,
	"IN TRANSIT":                 SignalInTransit,
	"SHIPPED":                    SignalInTransit,
	"REACHED AT DESTINATION HUB": SignalInTransit,
	"OUT FOR DELIVERY":           SignalInTransit,

	"DELIVERED":        SignalDelivered,
	"RETURN DELIVERED": SignalDelivered,

	"PICKUP EXCEPTION": SignalFailed,
	"PICKUP FAILED":    SignalFailed,
	"CANCELED":         SignalFailed,
	"CANCELLED":        SignalFailed,
	"PICKUP CANCELLED": SignalFailed,
}

// StatusSignal maps a Shiprocket status label onto a Signal.
func StatusSignal(status string) (Signal, bool) {
	s, ok := shiprocketStatuses[strings.ToUpper(strings.TrimSpace(status))]
	return s, ok
}

// WebhookEvent is a parsed Shiprocket tracking callback.
type WebhookEvent struct {
	AWB       string
	Status    string
	Timestamp string
	Signal    Signal
}

// DedupKey identifies a delivery; carriers resend the same status with the
// same timestamp. Events without a timestamp get no key since separate
// events would collide.
func (e WebhookEvent) DedupKey() string {
	if e.Timestamp == "" {
		return ""
	}
	return e.AWB + "|" + e.Status + "|" + e.Timestamp
}

type webhookPayload struct {
	AWB              json.RawMessage `json:"awb"`
	CurrentStatus    string          `json:"current_status"`
	ShipmentStatus   string          `json:"shipment_status"`
	CurrentTimestamp string          `json:"current_timestamp"`
}

// ParseWebhook decodes a Shiprocket callback. The AWB arrives as a string or
// a number depending on the courier.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnrecognizedPayload, err)
	}

	awb := parseAWB(p.AWB)
	if awb == "" {
		return nil, fmt.Errorf("%w: missing awb", domain.ErrUnrecognizedPayload)
	}

	status := strings.ToUpper(strings.TrimSpace(p.CurrentStatus))
	if status == "" {
		status = strings.ToUpper(strings.TrimSpace(p.ShipmentStatus))
	}
	signal, ok := StatusSignal(status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrUnrecognizedPayload, status)
	}

	return &WebhookEvent{
		AWB:       awb,
		Status:    status,
		Timestamp: strings.TrimSpace(p.CurrentTimestamp),
		Signal:    signal,
	}, nil
}

func parseAWB(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
