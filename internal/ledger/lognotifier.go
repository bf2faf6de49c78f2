package ledger

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the log. It stands in for direct
// messages when the Discord bot is disabled.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info("notification",
		zap.String("group_id", note.GroupID),
		zap.String("group_name", note.GroupName),
		zap.String("recipient", note.Recipient),
		zap.String("counterpart", note.CounterpartName),
		zap.String("amount", note.Amount.StringFixed(2)),
		zap.String("kind", string(note.Kind)),
	)
	return nil
}
