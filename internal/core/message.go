package core

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// TimeLayout formats the server timestamp injected into relayed messages.
const TimeLayout = "15:04:05 2006-01-02"

// Envelope is an inbound message. Only its top-level shape is checked.
type Envelope map[string]json.RawMessage

// DecodeEnvelope parses data as a JSON object.
func DecodeEnvelope(data []byte) (Envelope, error) {
	if !utf8.Valid(data) {
		return nil, protocolError(ReasonInvalidUTF8, nil)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return nil, protocolError(ReasonMalformedJSON, nil)
		}
		return nil, protocolError(ReasonNotObject, nil)
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, protocolError(ReasonMalformedJSON, err)
	}
	return env, nil
}

// Stamp attributes the envelope to participant and sets the server time.
func (e Envelope) Stamp(participant string, now time.Time) {
	e["uuid"] = mustMarshal(participant)
	e["time"] = mustMarshal(now.Format(TimeLayout))
}

// Encode renders the envelope for publishing.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage(e))
}

// Snapshot is the membership broadcast sent on every join and leave.
type Snapshot struct {
	UUIDs []string `json:"uuids"`
}

// EncodeSnapshot renders members in join-rank order.
func EncodeSnapshot(members []string) ([]byte, error) {
	if members == nil {
		members = []string{}
	}
	return json.Marshal(Snapshot{UUIDs: members})
}

func mustMarshal(s string) json.RawMessage {
	// strings always marshal
	b, _ := json.Marshal(s)
	return b
}
