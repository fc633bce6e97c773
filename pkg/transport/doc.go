// Package transport defines the duplex frame streams holobridge runs over
// and the Conn state machine that carries encoded packets on them.
//
// Key concepts:
//   - Transport: dials and listens for Streams of one Kind (ws, tcp, quic, mem, winpipe)
//   - Stream: one bidirectional socket that moves whole frames
//   - Listener: accepts inbound Streams and reports a Hint (e.g. the channel
//     named by a websocket request path)
//   - Conn: connect/send/receive/close over a Stream with typed errors and
//     an observable State
package transport
