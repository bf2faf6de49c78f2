package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrVersionConflict is returned by a Store when the group changed after it
// was read. The service retries the whole read-modify-write cycle.
var ErrVersionConflict = errors.New("group version conflict")

type Store interface {
	CreateGroup(ctx context.Context, g *Group) error
	Group(ctx context.Context, id string) (*Group, error)
	// GroupByChannel returns the active group bound to a chat channel.
	GroupByChannel(ctx context.Context, channelID string) (*Group, error)
	// SaveGroup persists g if the stored version still equals expectedVersion,
	// bumping the version and appending entry to the history in the same
	// transaction when entry is non-nil.
	SaveGroup(ctx context.Context, g *Group, expectedVersion int64, entry *HistoryEntry) error
	History(ctx context.Context, groupID string) (*History, error)
}

// Locker serializes writers of one group.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

type NotificationKind string

const (
	KindNewDebt         NotificationKind = "new_debt"
	KindPaymentReceived NotificationKind = "payment_received"
)

type Notification struct {
	GroupID         string           `json:"groupId"`
	GroupName       string           `json:"groupName"`
	Recipient       string           `json:"recipient"`
	Amount          decimal.Decimal  `json:"amount"`
	CounterpartName string           `json:"counterpartName"`
	Kind            NotificationKind `json:"kind"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// localLocker is an in-process keyed mutex. Entries are reference counted
// and dropped once no goroutine holds or waits for them.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[string]*keyLock)}
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}()

	kl.mu.Lock()
	defer kl.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
