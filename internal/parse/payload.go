package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ChannelCount is the fixed number of channel values in every reading.
const ChannelCount = 18

// Reading types accepted from devices.
const (
	TypeModule1 = 1
	TypeModule2 = 2
)

var (
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrInvalidType         = errors.New("invalid type")
	ErrInvalidChannelShape = errors.New("invalid channel shape")
	ErrInvalidChannelValue = errors.New("invalid channel value")
)

// DecodeError carries the failure kind and a short description of the offending field.
type DecodeError struct {
	Kind   error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *DecodeError) Unwrap() error { return e.Kind }

// Message is a decoded, validated payload. It has no timestamp; the receiver stamps it.
type Message struct {
	Type     int
	Channels []float64
}

type wireMessage struct {
	Type   json.RawMessage `json:"type"`
	Module json.RawMessage `json:"module"`
}

// Payload decodes a raw MQTT payload of the form {"type":1|2,"module":[18 numbers]}.
// Checks run in order and the first failure is returned.
func Payload(raw []byte) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &DecodeError{Kind: ErrMalformedPayload, Detail: "expected a JSON object"}
	}

	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Message{}, &DecodeError{Kind: ErrMalformedPayload, Detail: err.Error()}
	}

	typ, err := decodeType(w.Type)
	if err != nil {
		return Message{}, err
	}

	channels, err := decodeChannels(w.Module)
	if err != nil {
		return Message{}, err
	}

	return Message{Type: typ, Channels: channels}, nil
}

func decodeType(raw json.RawMessage) (int, error) {
	v, ok := number(raw)
	if !ok {
		return 0, &DecodeError{Kind: ErrInvalidType, Detail: fmt.Sprintf("type %s is not a number", describe(raw))}
	}
	switch v {
	case TypeModule1:
		return TypeModule1, nil
	case TypeModule2:
		return TypeModule2, nil
	}
	return 0, &DecodeError{Kind: ErrInvalidType, Detail: fmt.Sprintf("type %s is not 1 or 2", describe(raw))}
}

func decodeChannels(raw json.RawMessage) ([]float64, error) {
	var elems []json.RawMessage
	if len(raw) == 0 || raw[0] != '[' || json.Unmarshal(raw, &elems) != nil {
		return nil, &DecodeError{Kind: ErrInvalidChannelShape, Detail: fmt.Sprintf("module %s is not an array", describe(raw))}
	}
	if len(elems) != ChannelCount {
		return nil, &DecodeError{Kind: ErrInvalidChannelShape, Detail: fmt.Sprintf("module has %d values, want %d", len(elems), ChannelCount)}
	}

	channels := make([]float64, ChannelCount)
	for i, elem := range elems {
		v, ok := number(elem)
		if !ok {
			return nil, &DecodeError{Kind: ErrInvalidChannelValue, Detail: fmt.Sprintf("module[%d] = %s", i, describe(elem))}
		}
		channels[i] = v
	}
	return channels, nil
}

// number parses a raw JSON value as a finite float64. Strings, booleans, null and
// out-of-range literals are rejected.
func number(raw json.RawMessage) (float64, bool) {
	s := bytes.TrimSpace(raw)
	if len(s) == 0 || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func describe(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "<missing>"
	}
	if len(raw) > 32 {
		return string(raw[:32]) + "…"
	}
	return string(raw)
}
