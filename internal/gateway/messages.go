package gateway

import (
	"time"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// Server frame types
const (
	MessageHello      = "hello"
	MessageDiff       = "diff"
	MessageSubscribed = "subscribed"
	MessagePong       = "pong"
	MessageError      = "error"
)

// Client frame types
const (
	ClientSubscribe   = "subscribe"
	ClientUnsubscribe = "unsubscribe"
	ClientPing        = "ping"
)

// ServerMessage is every frame the gateway writes. Diff frames carry only
// sids; subscribers resolve rows through the read API.
type ServerMessage struct {
	Type         string               `json:"type"`
	SubscriberID string               `json:"subscriber_id,omitempty"`
	Diff         *models.DiffMessage  `json:"diff,omitempty"`
	Keys         []models.CompoundKey `json:"keys,omitempty"`
	Rejected     []string             `json:"rejected,omitempty"`
	Error        *ErrorPayload        `json:"error,omitempty"`
	Timestamp    time.Time            `json:"ts"`
}

// ClientMessage is a control frame sent by a subscriber. Keys are in
// "sport:market:scope:event" form.
type ClientMessage struct {
	Type string   `json:"type"`
	Keys []string `json:"keys,omitempty"`
}

// ErrorPayload describes a rejected control frame
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
