package service

import "fmt"

// State is a step of one Capitalize call on the server side:
//
//	Received → Decoding → (Transforming → Encoding → Responded) | (DecodeFailed → RespondedEmpty) → Completed
//
// In strict decoding mode DecodeFailed goes straight to Completed with an error.
type State uint8

const (
	StateReceived State = iota
	StateDecoding
	StateTransforming
	StateEncoding
	StateResponded
	StateDecodeFailed
	StateRespondedEmpty
	StateCompleted
)

var stateNames = [...]string{
	StateReceived:       "RECEIVED",
	StateDecoding:       "DECODING",
	StateTransforming:   "TRANSFORMING",
	StateEncoding:       "ENCODING",
	StateResponded:      "RESPONDED",
	StateDecodeFailed:   "DECODE_FAILED",
	StateRespondedEmpty: "RESPONDED_EMPTY",
	StateCompleted:      "COMPLETED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}
