package delivery

import (
	"context"

	"go.uber.org/zap"
)

// LogGateway writes messages to the log instead of sending them.
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger.Named("delivery.dev")}
}

func (g *LogGateway) Send(_ context.Context, msg Message) error {
	g.logger.Info("message not transmitted (development delivery)",
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}
