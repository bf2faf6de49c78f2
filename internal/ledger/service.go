package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/susu3304/warikanbot/internal/settlement"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

// Service is the only entry point that mutates groups. Every operation is one
// read-modify-write cycle held under the group's lock and committed with an
// optimistic version check.
type Service struct {
	store       Store
	locker      Locker
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		locker:      NewLocalLocker(),
		logger:      zap.NewNop(),
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExpenseResult is returned by add, edit and delete expense operations.
type ExpenseResult struct {
	GroupID      string                         `json:"groupId"`
	Version      int64                          `json:"version"`
	AllExpenses  []settlement.Expense           `json:"allExpenses"`
	PendingEdges []settlement.Edge              `json:"pendingEdges"`
	Warning      *settlement.ConsistencyWarning `json:"-"`
}

type ResolveResult struct {
	GroupID       string            `json:"groupId"`
	PendingEdges  []settlement.Edge `json:"pendingEdges"`
	ResolvedEdges []settlement.Edge `json:"resolvedEdges"`
	GroupStatus   Status            `json:"groupStatus"`
	Settled       HistoryEntry      `json:"settled"`
}

type CreateGroupInput struct {
	Name      string
	Members   []string
	GuildID   string
	ChannelID string
}

func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (*Group, error) {
	if in.Name == "" {
		return nil, &settlement.ValidationError{Field: "name", Reason: "group name is required"}
	}
	if in.ChannelID != "" {
		if g, err := s.store.GroupByChannel(ctx, in.ChannelID); err == nil {
			return nil, &settlement.StateError{GroupID: g.ID, Status: "already open in this channel"}
		} else if !settlement.IsNotFound(err) {
			return nil, err
		}
	}
	g := NewGroup(in.Name, in.Members, s.now())
	g.GuildID = in.GuildID
	g.ChannelID = in.ChannelID
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.logger.Info("group created", zap.String("group_id", g.ID), zap.String("name", g.Name))
	return g, nil
}

func (s *Service) Group(ctx context.Context, id string) (*Group, error) {
	return s.store.Group(ctx, id)
}

func (s *Service) GroupByChannel(ctx context.Context, channelID string) (*Group, error) {
	return s.store.GroupByChannel(ctx, channelID)
}

func (s *Service) History(ctx context.Context, groupID string) (*History, error) {
	return s.store.History(ctx, groupID)
}

func (s *Service) Balances(ctx context.Context, groupID string) (settlement.Balances, error) {
	g, err := s.store.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return g.Balances(), nil
}

func (s *Service) Join(ctx context.Context, groupID, userID string) (bool, error) {
	var joined bool
	_, _, err := s.apply(ctx, "join", groupID, func(g *Group) (*HistoryEntry, error) {
		var err error
		joined, err = g.Join(userID)
		return nil, err
	})
	return joined, err
}

// AddExpenses appends one expense, or a whole checkout, and recomputes the
// pending edges.
func (s *Service) AddExpenses(ctx context.Context, groupID string, expenses ...settlement.Expense) (*ExpenseResult, error) {
	if len(expenses) == 0 {
		return nil, &settlement.ValidationError{Field: "expenses", Reason: "no expense given"}
	}
	return s.changeExpenses(ctx, "add_expense", groupID, func(g *Group, now time.Time) (*settlement.ConsistencyWarning, error) {
		return g.AddExpenses(now, expenses...)
	})
}

func (s *Service) EditExpense(ctx context.Context, groupID string, e settlement.Expense) (*ExpenseResult, error) {
	return s.changeExpenses(ctx, "edit_expense", groupID, func(g *Group, now time.Time) (*settlement.ConsistencyWarning, error) {
		return g.EditExpense(now, e)
	})
}

func (s *Service) DeleteExpense(ctx context.Context, groupID, expenseID string) (*ExpenseResult, error) {
	return s.changeExpenses(ctx, "delete_expense", groupID, func(g *Group, now time.Time) (*settlement.ConsistencyWarning, error) {
		return g.DeleteExpense(now, expenseID)
	})
}

func (s *Service) changeExpenses(ctx context.Context, op, groupID string, fn func(*Group, time.Time) (*settlement.ConsistencyWarning, error)) (*ExpenseResult, error) {
	var warning *settlement.ConsistencyWarning
	before, after, err := s.apply(ctx, op, groupID, func(g *Group) (*HistoryEntry, error) {
		var err error
		warning, err = fn(g, s.now())
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	if warning != nil {
		consistencyWarningTotal.Inc()
		s.logger.Warn("unmatched residual after recompute",
			zap.String("group_id", groupID),
			zap.String("operation", op),
			zap.String("residual", warning.Residual.StringFixed(2)),
			zap.Any("unmatched", warning.Unmatched),
		)
	}
	s.notifyNewDebts(ctx, before, after)
	return &ExpenseResult{
		GroupID:      after.ID,
		Version:      after.Version,
		AllExpenses:  after.Expenses,
		PendingEdges: after.Pending(),
		Warning:      warning,
	}, nil
}

// Resolve records that requester paid the pending edge from -> to.
func (s *Service) Resolve(ctx context.Context, groupID, from, to, requester string) (*ResolveResult, error) {
	var entry HistoryEntry
	_, after, err := s.apply(ctx, "resolve", groupID, func(g *Group) (*HistoryEntry, error) {
		var err error
		entry, err = g.Resolve(s.now(), from, to, requester)
		if err != nil {
			return nil, err
		}
		return &entry, nil
	})
	if err != nil {
		return nil, err
	}
	if after.Status == StatusCompleted {
		s.logger.Info("group completed", zap.String("group_id", after.ID))
	}
	s.notify(ctx, Notification{
		GroupID:         after.ID,
		GroupName:       after.Name,
		Recipient:       entry.To,
		Amount:          entry.Amount,
		CounterpartName: entry.From,
		Kind:            KindPaymentReceived,
	})
	return &ResolveResult{
		GroupID:       after.ID,
		PendingEdges:  after.Pending(),
		ResolvedEdges: after.Resolved(),
		GroupStatus:   after.Status,
		Settled:       entry,
	}, nil
}

func (s *Service) DeleteGroup(ctx context.Context, groupID string) (*Group, error) {
	_, after, err := s.apply(ctx, "delete_group", groupID, func(g *Group) (*HistoryEntry, error) {
		return nil, g.Delete(s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("group deleted", zap.String("group_id", groupID))
	return after, nil
}

// apply runs fn against a private copy of the group and commits the copy.
// A version conflict restarts the cycle from a fresh read; any other error
// leaves the stored group untouched.
func (s *Service) apply(ctx context.Context, op, groupID string, fn func(*Group) (*HistoryEntry, error)) (before, after *Group, err error) {
	start := time.Now()
	defer func() {
		operationTotal.WithLabelValues(op, resultLabel(err)).Inc()
		operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	err = s.locker.WithLock(ctx, "group:"+groupID, func(ctx context.Context) error {
		for attempt := 1; attempt <= s.maxAttempts; attempt++ {
			cur, err := s.store.Group(ctx, groupID)
			if err != nil {
				return err
			}
			work := cur.Clone()
			entry, err := fn(work)
			if err != nil {
				return err
			}
			err = s.store.SaveGroup(ctx, work, cur.Version, entry)
			if errors.Is(err, ErrVersionConflict) {
				versionConflictTotal.Inc()
				s.logger.Warn("stale group version, retrying",
					zap.String("group_id", groupID),
					zap.String("operation", op),
					zap.Int64("read_version", cur.Version),
					zap.Int("attempt", attempt),
				)
				continue
			}
			if err != nil {
				return fmt.Errorf("%s: save group %s: %w", op, groupID, err)
			}
			before, after = cur, work
			return nil
		}
		return fmt.Errorf("%s: group %s: %w", op, groupID, ErrVersionConflict)
	})
	return before, after, err
}

// notifyNewDebts tells each debtor about pending edges that did not exist
// before the change.
func (s *Service) notifyNewDebts(ctx context.Context, before, after *Group) {
	seen := make(map[string]bool)
	for _, e := range before.Pending() {
		seen[edgeKey(e)] = true
	}
	for _, e := range after.Pending() {
		if seen[edgeKey(e)] {
			continue
		}
		s.notify(ctx, Notification{
			GroupID:         after.ID,
			GroupName:       after.Name,
			Recipient:       e.From,
			Amount:          e.Amount,
			CounterpartName: e.To,
			Kind:            KindNewDebt,
		})
	}
}

func edgeKey(e settlement.Edge) string {
	return e.From + "\x00" + e.To + "\x00" + e.Amount.StringFixed(2)
}

// notify never fails the caller: the settlement is already committed.
func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		notifyFailureTotal.WithLabelValues(string(n.Kind)).Inc()
		s.logger.Error("notification failed",
			zap.String("group_id", n.GroupID),
			zap.String("recipient", n.Recipient),
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)
	}
}
