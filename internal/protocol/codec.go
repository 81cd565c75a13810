package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrNilMessage  = errors.New("nil message")
)

type decodeFn func([]byte) (Msg, error)

var decoders = map[Kind]decodeFn{
	KindNewPlayer:   decodeAs[NewPlayer],
	KindPlayerLeft:  decodeAs[PlayerLeft],
	KindBikeCreate:  decodeAs[BikeCreate],
	KindBikeRemove:  decodeAs[BikeRemove],
	KindBikeTurn:    decodeAs[BikeTurn],
	KindBikeCommand: decodeAs[BikeCommand],
	KindCellClaim:   decodeAs[CellClaim],
	KindCellHit:     decodeAs[CellHit],
	KindCellRemoved: decodeAs[CellRemoved],
	KindCheckpoint:  decodeAs[Checkpoint],
}

func decodeAs[T Msg](b []byte) (Msg, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode renders m as a flat envelope: {"kind":...,"timestamp":...,...}.
func Encode(m Msg) ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	// Every payload embeds Stamp, so body is a non-empty object.
	var buf bytes.Buffer
	buf.Grow(len(body) + 24)
	buf.WriteString(`{"kind":`)
	k, _ := json.Marshal(string(m.Kind()))
	buf.Write(k)
	buf.WriteByte(',')
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// PeekKind reads only the kind tag of an envelope.
func PeekKind(b []byte) (Kind, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return "", err
	}
	return head.Kind, nil
}

func Decode(b []byte) (Msg, error) {
	kind, err := PeekKind(b)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	dec, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	m, err := dec(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return m, nil
}
