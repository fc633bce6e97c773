package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"holobridge/pkg/protocol/codec"
)

func allCodecs(t *testing.T) []codec.Codec {
	t.Helper()
	cb, err := codec.CBOR()
	if err != nil {
		t.Fatalf("cbor: %v", err)
	}
	return []codec.Codec{codec.Msgpack(), cb, codec.JSON(), codec.Proto()}
}

func TestPacketRoundTrip(t *testing.T) {
	in := Packet{
		ID:        NewPacketID(),
		Channel:   ChannelHands,
		Timestamp: time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC),
		Chunk:     Chunk{SequenceNumber: 2, TotalChunks: 5, Data: []byte("f 1 2 3\n")},
	}
	for _, c := range allCodecs(t) {
		frame, err := EncodePacket(c, in)
		if err != nil {
			t.Fatalf("%s encode: %v", c.ContentType(), err)
		}
		out, err := DecodePacket(c, frame)
		if err != nil {
			t.Fatalf("%s decode: %v", c.ContentType(), err)
		}
		if out.ID != in.ID || out.Channel != in.Channel || !out.Timestamp.Equal(in.Timestamp) {
			t.Fatalf("%s header mismatch: %+v", c.ContentType(), out)
		}
		if out.Timestamp.Location() != time.UTC {
			t.Fatalf("%s timestamp not UTC", c.ContentType())
		}
		if out.Chunk.SequenceNumber != 2 || out.Chunk.TotalChunks != 5 || !bytes.Equal(out.Chunk.Data, in.Chunk.Data) {
			t.Fatalf("%s chunk mismatch: %+v", c.ContentType(), out.Chunk)
		}
	}
}

func TestPacketEncodingIsDeterministic(t *testing.T) {
	p := NewControl(false, ChannelMesh)
	for _, c := range allCodecs(t) {
		a, _ := EncodePacket(c, p)
		b, _ := EncodePacket(c, p)
		if !bytes.Equal(a, b) {
			t.Fatalf("%s: non-deterministic encoding", c.ContentType())
		}
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	p := Packet{ID: "abc", Channel: ChannelMesh, Timestamp: time.Now().UTC(),
		Chunk: Chunk{SequenceNumber: 0, TotalChunks: 1, Data: bytes.Repeat([]byte{7}, 32)}}
	for _, c := range allCodecs(t) {
		frame, err := EncodePacket(c, p)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		_, err = DecodePacket(c, frame[:len(frame)/2])
		var ce *CodecError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: want CodecError, got %v", c.ContentType(), err)
		}
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	c := codec.Msgpack()
	frame, err := EncodePacket(c, Packet{ID: "", Chunk: Chunk{TotalChunks: 1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var ce *CodecError
	if _, err := DecodePacket(c, frame); !errors.As(err, &ce) {
		t.Fatalf("missing id accepted: %v", err)
	}
	frame, _ = EncodePacket(c, Packet{ID: "x", Chunk: Chunk{TotalChunks: 0}})
	if _, err := DecodePacket(c, frame); !errors.As(err, &ce) {
		t.Fatalf("zero total accepted: %v", err)
	}
}

func TestMsgpackWireLayout(t *testing.T) {
	frame, err := EncodePacket(codec.Msgpack(), NewControl(true, ChannelHands))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// [id, channel, timestamp, [seq, total, data]]
	if frame[0] != 0x94 {
		t.Fatalf("outer array header %#x", frame[0])
	}
	if frame[1] != 0xa5 || string(frame[2:7]) != "start" {
		t.Fatalf("id not first element: % x", frame[:8])
	}
	if frame[7] != 0x01 {
		t.Fatalf("channel enum %#x", frame[7])
	}
}

func TestControlPacketShape(t *testing.T) {
	p := NewControl(true, ChannelMesh)
	if p.ID != IDStart || !p.IsControl() {
		t.Fatalf("id %q", p.ID)
	}
	if p.Chunk.SequenceNumber != 0 || p.Chunk.TotalChunks != 1 || !bytes.Equal(p.Chunk.Data, []byte{0}) {
		t.Fatalf("chunk %+v", p.Chunk)
	}
	if !p.Chunk.IsLast() {
		t.Fatalf("control chunk must be the last chunk")
	}
	if NewControl(false, ChannelMesh).ID != IDStop {
		t.Fatalf("stop id")
	}
}

func TestFrameLimitCoversFullChunk(t *testing.T) {
	const k = 128 << 10
	for _, c := range allCodecs(t) {
		p := Packet{ID: NewPacketID(), Channel: ChannelHands, Timestamp: time.Now().UTC(),
			Chunk: Chunk{SequenceNumber: 1 << 20, TotalChunks: 1 << 21, Data: make([]byte, k)}}
		frame, err := EncodePacket(c, p)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if limit := FrameLimit(c, k, 20); len(frame) > limit {
			t.Fatalf("%s: frame %d exceeds limit %d", c.ContentType(), len(frame), limit)
		}
	}
}
