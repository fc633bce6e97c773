// Package netstack resolves endpoint schemes to transports, runs listener
// accept loops, and provides the reconnect backoff policy.
package netstack

import (
	"sync"

	"holobridge/pkg/transport"
	"holobridge/pkg/transport/mem"
	tquic "holobridge/pkg/transport/quic"
	ttcp "holobridge/pkg/transport/tcp"
	"holobridge/pkg/transport/ws"
)

var (
	quicOnce sync.Once
	quicTr   *tquic.Transport
	quicErr  error
)

// NewByScheme returns the transport serving an endpoint scheme. The mem
// scheme resolves to the process-wide in-memory namespace so dialers and
// listeners in one process meet.
func NewByScheme(scheme string) (transport.Transport, error) {
	switch scheme {
	case "ws", "wss":
		return ws.New(), nil
	case "tcp":
		return ttcp.New(), nil
	case "quic":
		// one certificate per process
		quicOnce.Do(func() { quicTr, quicErr = tquic.New() })
		if quicErr != nil {
			return nil, quicErr
		}
		return quicTr, nil
	case "mem":
		return mem.Default(), nil
	case "pipe", "winpipe":
		return newWinPipeTransport()
	default:
		return nil, ErrUnknownScheme(scheme)
	}
}

// ErrUnknownScheme is returned for schemes without a transport.
type ErrUnknownScheme string

func (e ErrUnknownScheme) Error() string { return "unknown transport scheme: " + string(e) }
