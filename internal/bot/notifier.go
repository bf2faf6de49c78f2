package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/susu3304/warikanbot/internal/ledger"
	"go.uber.org/zap"
)

// dmSession is the part of discordgo.Session the notifier needs.
type dmSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DMNotifier tells participants about new debts and received payments by
// direct message.
type DMNotifier struct {
	session        dmSession
	logger         *zap.Logger
	attemptTimeout time.Duration
	maxAttempts    int
	backoff        func() time.Duration
}

var _ ledger.Notifier = (*DMNotifier)(nil)

func NewDMNotifier(session dmSession, logger *zap.Logger) *DMNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DMNotifier{
		session:        session,
		logger:         logger,
		attemptTimeout: 12 * time.Second,
		maxAttempts:    2,
		backoff: func() time.Duration {
			return time.Duration(300+rand.Intn(500)) * time.Millisecond
		},
	}
}

func (n *DMNotifier) Notify(ctx context.Context, note ledger.Notification) error {
	content, err := notificationText(note)
	if err != nil {
		return err
	}
	ch, err := n.session.UserChannelCreate(note.Recipient, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm with %s: %w", note.Recipient, err)
	}
	if err := n.sendWithRetry(ctx, ch.ID, content); err != nil {
		return fmt.Errorf("send dm to %s: %w", note.Recipient, err)
	}
	n.logger.Debug("notification sent",
		zap.String("group_id", note.GroupID),
		zap.String("recipient", note.Recipient),
		zap.String("kind", string(note.Kind)),
	)
	return nil
}

func notificationText(n ledger.Notification) (string, error) {
	amount := n.Amount.StringFixed(0)
	if !n.Amount.IsInteger() {
		amount = n.Amount.StringFixed(2)
	}
	switch n.Kind {
	case ledger.KindNewDebt:
		return fmt.Sprintf("【%s】<@%s> さんへの支払い %s 円が発生しました", n.GroupName, n.CounterpartName, amount), nil
	case ledger.KindPaymentReceived:
		return fmt.Sprintf("【%s】<@%s> さんから %s 円の支払いが完了しました", n.GroupName, n.CounterpartName, amount), nil
	}
	return "", fmt.Errorf("unknown notification kind %q", n.Kind)
}

func (n *DMNotifier) sendWithRetry(ctx context.Context, channelID, content string) error {
	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
		_, err := n.session.ChannelMessageSend(channelID, content, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) {
			return err
		}
		if attempt < n.maxAttempts {
			select {
			case <-time.After(n.backoff()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
