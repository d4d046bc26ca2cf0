package datagram

import (
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/swarm-console/internal/address"
	"github.com/swarm-console/internal/commands"
)

// WireVersion is the envelope version written into every datagram
const WireVersion = 1

// Codec maps records to datagram payloads
type Codec interface {
	Encode(record Record) ([]byte, error)
}

// wireDatagram is the on-air envelope. Integer keys keep payloads small.
type wireDatagram struct {
	Version uint8  `cbor:"1,keyasint"`
	Source  uint32 `cbor:"2,keyasint"`
	Code    uint8  `cbor:"3,keyasint"`
	Args    []any  `cbor:"4,keyasint"`
	Target  string `cbor:"5,keyasint,omitempty"`
	Group   uint32 `cbor:"6,keyasint"`
}

// Envelope is a decoded datagram together with its sender
type Envelope struct {
	Version uint8
	Source  uint32
	Record  Record
}

// CBORCodec encodes records with core deterministic CBOR, so equal records
// always produce identical bytes
type CBORCodec struct {
	source uint32
	enc    cbor.EncMode
	dec    cbor.DecMode
}

// NewCBORCodec creates a codec stamping source as the sender id
func NewCBORCodec(source uint32) (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	dec, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	return &CBORCodec{source: source, enc: enc, dec: dec}, nil
}

// Encode serializes a record
func (c *CBORCodec) Encode(record Record) ([]byte, error) {
	args := record.Args
	if args == nil {
		args = []any{}
	}

	data, err := c.enc.Marshal(wireDatagram{
		Version: WireVersion,
		Source:  c.source,
		Code:    uint8(record.Code),
		Args:    args,
		Target:  record.TargetID,
		Group:   uint32(record.Group),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s datagram: %w", record.Code, err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode
func (c *CBORCodec) Decode(data []byte) (Envelope, error) {
	var wire wireDatagram
	if err := c.dec.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode datagram: %w", err)
	}
	if wire.Version != WireVersion {
		return Envelope{}, fmt.Errorf("unsupported datagram version %d", wire.Version)
	}

	args := make([]any, len(wire.Args))
	for i, arg := range wire.Args {
		value, err := normalizeArg(arg)
		if err != nil {
			return Envelope{}, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = value
	}

	return Envelope{
		Version: wire.Version,
		Source:  wire.Source,
		Record: Record{
			Code:     commands.Code(wire.Code),
			Args:     args,
			TargetID: wire.Target,
			Group:    address.GroupID(wire.Group),
		},
	}, nil
}

// normalizeArg maps decoded CBOR numbers back onto the int64/float64
// argument types used by records
func normalizeArg(arg any) (any, error) {
	switch v := arg.(type) {
	case uint64:
		if v > math.MaxInt64 {
			return nil, errors.New("integer argument overflows int64")
		}
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("unexpected argument type %T", arg)
	}
}
