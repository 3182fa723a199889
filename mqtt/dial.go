package mqtt

import (
	"context"
	"log/slog"

	"github.com/ilievs/edgesim/config"
	"github.com/ilievs/edgesim/core"
)

// Transport is a core.Bus bound to a broker connection.
type Transport interface {
	core.Bus
	Close(ctx context.Context) error
}

// Dial connects with the protocol version named in cfg.
func Dial(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (Transport, error) {
	if cfg.Protocol == config.ProtocolV311 {
		c, err := DialV311(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := DialV5(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}
