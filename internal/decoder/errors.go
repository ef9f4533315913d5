package decoder

import "fmt"

// Reason classifies why a wire message failed to decode.
type Reason int

const (
	ReasonEmpty Reason = iota
	ReasonOversized
	ReasonSecurityThreat
	ReasonBadTopic
	ReasonBadPayload
)

func (r Reason) String() string {
	switch r {
	case ReasonEmpty:
		return "empty"
	case ReasonOversized:
		return "oversized"
	case ReasonSecurityThreat:
		return "security_threat"
	case ReasonBadTopic:
		return "bad_topic"
	case ReasonBadPayload:
		return "bad_payload"
	default:
		return "unknown"
	}
}

// DecodeError carries the drop reason for a rejected wire message.
// Decode errors are logged and dropped, never retried and never
// answered on the wire.
type DecodeError struct {
	Reason Reason
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode: %s", e.Reason)
	}
	return fmt.Sprintf("decode: %s: %s", e.Reason, e.Detail)
}

func newDecodeError(reason Reason, detail string) *DecodeError {
	return &DecodeError{Reason: reason, Detail: detail}
}
