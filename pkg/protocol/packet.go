package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"holobridge/pkg/protocol/codec"
)

// EnvelopeOverhead bounds the bytes a codec adds around a full chunk:
// id, channel, timestamp and the array/field headers.
const EnvelopeOverhead = 128

// CodecError reports a frame that could not be encoded or decoded.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string { return fmt.Sprintf("protocol: %s packet: %v", e.Op, e.Err) }
func (e *CodecError) Unwrap() error { return e.Err }

var (
	errMissingID = errors.New("missing packet id")
	errBadTotal  = errors.New("total chunks must be at least 1")
	errNilCodec  = errors.New("nil codec")
)

// wireChunk and wirePacket carry the positional layout
// [id, channel, timestamp, [seq, total, data]] for msgpack and cbor.
type wireChunk struct {
	_msgpack struct{} `msgpack:",as_array"`
	_        struct{} `cbor:",toarray"`

	SequenceNumber int32  `json:"seq"`
	TotalChunks    int32  `json:"total"`
	Data           []byte `json:"data"`
}

type wirePacket struct {
	_msgpack struct{} `msgpack:",as_array"`
	_        struct{} `cbor:",toarray"`

	ID        string    `json:"id"`
	Channel   ChannelID `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Chunk     wireChunk `json:"chunk"`
}

func toWire(p Packet) *wirePacket {
	return &wirePacket{
		ID:        p.ID,
		Channel:   p.Channel,
		Timestamp: p.Timestamp,
		Chunk:     wireChunk{SequenceNumber: p.Chunk.SequenceNumber, TotalChunks: p.Chunk.TotalChunks, Data: p.Chunk.Data},
	}
}

func (w *wirePacket) packet() Packet {
	return Packet{
		ID:        w.ID,
		Channel:   w.Channel,
		Timestamp: w.Timestamp.UTC(),
		Chunk:     Chunk{SequenceNumber: w.Chunk.SequenceNumber, TotalChunks: w.Chunk.TotalChunks, Data: w.Chunk.Data},
	}
}

// Protobuf field numbers.
const (
	fieldID        protowire.Number = 1
	fieldChannel   protowire.Number = 2
	fieldTimestamp protowire.Number = 3
	fieldChunk     protowire.Number = 4

	fieldSeq   protowire.Number = 1
	fieldTotal protowire.Number = 2
	fieldData  protowire.Number = 3
)

func (w *wirePacket) AppendProto(b []byte) []byte {
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, w.ID)
	b = protowire.AppendTag(b, fieldChannel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(w.Channel)))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(w.Timestamp.UnixNano()))

	var c []byte
	c = protowire.AppendTag(c, fieldSeq, protowire.VarintType)
	c = protowire.AppendVarint(c, uint64(int64(w.Chunk.SequenceNumber)))
	c = protowire.AppendTag(c, fieldTotal, protowire.VarintType)
	c = protowire.AppendVarint(c, uint64(int64(w.Chunk.TotalChunks)))
	c = protowire.AppendTag(c, fieldData, protowire.BytesType)
	c = protowire.AppendBytes(c, w.Chunk.Data)

	b = protowire.AppendTag(b, fieldChunk, protowire.BytesType)
	return protowire.AppendBytes(b, c)
}

func (w *wirePacket) ConsumeProto(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			w.ID = v
			return n, nil
		case num == fieldChannel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			w.Channel = ChannelID(int32(int64(v)))
			return n, nil
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			w.Timestamp = time.Unix(0, int64(v))
			return n, nil
		case num == fieldChunk && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			return n, w.Chunk.consumeProto(v)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (c *wireChunk) consumeProto(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.SequenceNumber = int32(int64(v))
			return n, nil
		case num == fieldTotal && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.TotalChunks = int32(int64(v))
			return n, nil
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				c.Data = append([]byte(nil), v...)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

// EncodePacket serializes p into a single frame using c.
func EncodePacket(c codec.Codec, p Packet) ([]byte, error) {
	if c == nil {
		return nil, &CodecError{Op: "encode", Err: errNilCodec}
	}
	b, err := c.Marshal(toWire(p))
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return b, nil
}

// DecodePacket parses one frame. Truncated or malformed input, and frames
// without an id or with a non-positive total, fail with *CodecError.
func DecodePacket(c codec.Codec, frame []byte) (Packet, error) {
	if c == nil {
		return Packet{}, &CodecError{Op: "decode", Err: errNilCodec}
	}
	var w wirePacket
	if err := c.Unmarshal(frame, &w); err != nil {
		return Packet{}, &CodecError{Op: "decode", Err: err}
	}
	if w.ID == "" {
		return Packet{}, &CodecError{Op: "decode", Err: errMissingID}
	}
	if w.Chunk.TotalChunks < 1 {
		return Packet{}, &CodecError{Op: "decode", Err: errBadTotal}
	}
	return w.packet(), nil
}

// FrameLimit is the largest frame a receiver must accept for chunks of at
// most maxChunkBytes.
func FrameLimit(c codec.Codec, maxChunkBytes, marginBytes int) int {
	data := maxChunkBytes
	if c != nil && c.ContentType() == codec.ContentJSON {
		data = (maxChunkBytes+2)/3*4 + 2
	}
	return data + marginBytes + EnvelopeOverhead
}

// NewPacketID returns a fresh random transfer id.
func NewPacketID() string { return uuid.NewString() }

// NewTransfer wraps chunks into packets sharing id.
func NewTransfer(id string, channel ChannelID, chunks []Chunk) []Packet {
	now := time.Now().UTC()
	out := make([]Packet, len(chunks))
	for i, c := range chunks {
		out[i] = Packet{ID: id, Channel: channel, Timestamp: now, Chunk: c}
	}
	return out
}

// NewControl builds a start (start == true) or stop signal for channel.
// Its chunk is {0, 1, [0x00]}, following the 0-based sequence numbers used
// for data. Peers that send the 1-based {1, 1, ...} form still interoperate:
// control packets are recognised by id and their chunk is never checked.
func NewControl(start bool, channel ChannelID) Packet {
	id := IDStop
	if start {
		id = IDStart
	}
	return Packet{
		ID:        id,
		Channel:   channel,
		Timestamp: time.Now().UTC(),
		Chunk:     Chunk{SequenceNumber: 0, TotalChunks: 1, Data: []byte{0x00}},
	}
}
