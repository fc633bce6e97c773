package netstack

import (
	"context"

	"go.uber.org/zap"

	"holobridge/pkg/transport"
)

// AcceptLoop hands every inbound stream to handle until ctx is done or the
// listener fails. handle runs on the accept goroutine and must not block.
func AcceptLoop(ctx context.Context, l transport.Listener, handle func(transport.Stream, transport.Hint)) error {
	for {
		st, hint, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Warn("accept failed", zap.String("addr", addrString(l)), zap.Error(err))
			return err
		}
		zap.L().Info("inbound stream", zap.String("channel", hint.Channel), zap.String("remote", hint.Remote))
		handle(st, hint)
	}
}

func addrString(l transport.Listener) string {
	if a := l.Addr(); a != nil {
		return a.String()
	}
	return ""
}
