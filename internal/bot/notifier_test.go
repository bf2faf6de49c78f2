package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/settlement"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type fakeSession struct {
	dmErr    error
	sendErrs []error
	sent     []string
	channels []string
}

func (f *fakeSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.dmErr != nil {
		return nil, f.dmErr
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channels = append(f.channels, channelID)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func newTestNotifier(s dmSession) *DMNotifier {
	n := NewDMNotifier(s, nil)
	n.backoff = func() time.Duration { return 0 }
	return n
}

func debt() ledger.Notification {
	return ledger.Notification{
		GroupID:         "g1",
		GroupName:       "旅行",
		Recipient:       "111",
		Amount:          decimal.RequireFromString("1000"),
		CounterpartName: "333",
		Kind:            ledger.KindNewDebt,
	}
}

func TestNotifySendsDM(t *testing.T) {
	s := &fakeSession{}
	require.NoError(t, newTestNotifier(s).Notify(context.Background(), debt()))
	assert.Equal(t, []string{"dm-111"}, s.channels)
	assert.Equal(t, []string{"【旅行】<@333> さんへの支払い 1000 円が発生しました"}, s.sent)

	paid := debt()
	paid.Kind = ledger.KindPaymentReceived
	paid.Amount = decimal.RequireFromString("12.5")
	require.NoError(t, newTestNotifier(s).Notify(context.Background(), paid))
	assert.Equal(t, "【旅行】<@333> さんから 12.50 円の支払いが完了しました", s.sent[1])
}

func TestNotifyRetriesTimeouts(t *testing.T) {
	s := &fakeSession{sendErrs: []error{timeoutErr{}}}
	require.NoError(t, newTestNotifier(s).Notify(context.Background(), debt()))
	assert.Len(t, s.channels, 2)
	assert.Len(t, s.sent, 1)

	s = &fakeSession{sendErrs: []error{timeoutErr{}, timeoutErr{}, nil}}
	err := newTestNotifier(s).Notify(context.Background(), debt())
	require.Error(t, err)
	assert.Len(t, s.channels, 2)
	assert.Empty(t, s.sent)
}

func TestNotifyDoesNotRetryPermanentErrors(t *testing.T) {
	s := &fakeSession{sendErrs: []error{errors.New("403 Forbidden")}}
	err := newTestNotifier(s).Notify(context.Background(), debt())
	assert.ErrorContains(t, err, "403 Forbidden")
	assert.Len(t, s.channels, 1)

	s = &fakeSession{dmErr: errors.New("unknown user")}
	err = newTestNotifier(s).Notify(context.Background(), debt())
	assert.ErrorContains(t, err, "open dm with 111")

	bad := debt()
	bad.Kind = "reminder"
	assert.Error(t, newTestNotifier(&fakeSession{}).Notify(context.Background(), bad))
}

// A failing notifier must not undo a committed settlement.
func TestNotifierFailureKeepsSettlement(t *testing.T) {
	s := &fakeSession{dmErr: errors.New("dm closed")}
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.WithNotifier(newTestNotifier(s)))
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, ledger.CreateGroupInput{Name: "n", Members: []string{"A", "B"}})
	require.NoError(t, err)
	res, err := svc.AddExpenses(ctx, g.ID, settlement.Expense{
		Name:        "taxi",
		Payer:       "A",
		TotalAmount: decimal.NewFromInt(20),
		Payees:      []settlement.Payee{settlement.EqualSplitPayee("A"), settlement.EqualSplitPayee("B")},
	})
	require.NoError(t, err)
	require.Len(t, res.PendingEdges, 1)

	stored, err := svc.Group(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Expenses, 1)
}
