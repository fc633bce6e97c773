//go:build windows

package netstack

import (
	"holobridge/pkg/transport"
	"holobridge/pkg/transport/winpipe"
)

func newWinPipeTransport() (transport.Transport, error) { return winpipe.New(), nil }
