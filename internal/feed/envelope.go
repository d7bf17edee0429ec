// Package feed publishes mirror changes onto the signal bus so push clients
// and other processes see the same stream of updates.
package feed

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON message carried on every bus channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	At      time.Time       `json:"at"`
}

// Events published per channel.
const (
	EventUpsert   = "upsert"
	EventRemove   = "remove"
	EventToken    = "token"
	EventTrade    = "trade"
	EventResolved = "resolved"
	EventState    = "state"
)
