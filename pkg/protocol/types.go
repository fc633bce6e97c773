package protocol

import (
	"fmt"
	"time"
)

// ChannelID is the wire enum identifying a logical stream.
type ChannelID int32

const (
	ChannelMesh  ChannelID = 0
	ChannelHands ChannelID = 1
)

func (c ChannelID) String() string {
	switch c {
	case ChannelMesh:
		return "MESH"
	case ChannelHands:
		return "HANDS"
	default:
		return fmt.Sprintf("CHANNEL_%d", int32(c))
	}
}

// Reserved packet ids bracketing a session.
const (
	IDStart = "start"
	IDStop  = "stop"
)

// Chunk is one bounded slice of an artifact. SequenceNumber is 0-based and
// the last chunk of a transfer has SequenceNumber == TotalChunks-1.
type Chunk struct {
	SequenceNumber int32
	TotalChunks    int32
	Data           []byte
}

// IsLast reports whether c is the final chunk of its transfer.
func (c Chunk) IsLast() bool { return c.SequenceNumber == c.TotalChunks-1 }

// Packet is the unit written to the wire: one chunk of one transfer.
type Packet struct {
	ID        string
	Channel   ChannelID
	Timestamp time.Time
	Chunk     Chunk
}

// IsControl reports whether p is a start or stop signal.
func (p Packet) IsControl() bool { return p.ID == IDStart || p.ID == IDStop }

// Artifact is a fully reassembled payload.
type Artifact struct {
	Channel     string
	ChannelID   ChannelID
	PacketID    string
	Data        []byte
	Chunks      int
	CompletedAt time.Time
}

// IsControl reports whether a is a start or stop signal passed through
// the reassembler.
func (a Artifact) IsControl() bool { return a.PacketID == IDStart || a.PacketID == IDStop }
