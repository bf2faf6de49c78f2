package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/susu3304/warikanbot/internal/settlement"
)

// MemoryStore keeps groups in process. It is used in tests and when no
// database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	groups  map[string]*Group
	history map[string][]HistoryEntry
	// names keeps the group name for history that outlives a purged group.
	names map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:  make(map[string]*Group),
		history: make(map[string][]HistoryEntry),
		names:   make(map[string]string),
	}
}

func (s *MemoryStore) CreateGroup(ctx context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return &settlement.ValidationError{Field: "groupId", Reason: "group already exists"}
	}
	if g.ChannelID != "" {
		for _, other := range s.groups {
			if other.ChannelID == g.ChannelID && other.Status == StatusActive {
				return &settlement.StateError{GroupID: g.ID, Status: "already open in this channel"}
			}
		}
	}
	g.Version = 1
	s.groups[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) Group(ctx context.Context, id string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, &settlement.NotFoundError{Kind: "group", ID: id}
	}
	return g.Clone(), nil
}

func (s *MemoryStore) GroupByChannel(ctx context.Context, channelID string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.ChannelID == channelID && g.Status == StatusActive {
			return g.Clone(), nil
		}
	}
	return nil, &settlement.NotFoundError{Kind: "group for channel", ID: channelID}
}

func (s *MemoryStore) SaveGroup(ctx context.Context, g *Group, expectedVersion int64, entry *HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.groups[g.ID]
	if !ok {
		return &settlement.NotFoundError{Kind: "group", ID: g.ID}
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	g.Version = expectedVersion + 1
	s.groups[g.ID] = g.Clone()
	if entry != nil {
		s.history[g.ID] = append(s.history[g.ID], *entry)
		s.names[g.ID] = g.Name
	}
	return nil
}

func (s *MemoryStore) History(ctx context.Context, groupID string) (*History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &History{
		GroupID:      groupID,
		GroupName:    s.names[groupID],
		SettledEdges: append([]HistoryEntry(nil), s.history[groupID]...),
	}
	if len(h.SettledEdges) == 0 {
		g, ok := s.groups[groupID]
		if !ok {
			return nil, &settlement.NotFoundError{Kind: "group", ID: groupID}
		}
		h.GroupName = g.Name
	}
	return h, nil
}

// PurgeExpired drops completed and deleted groups closed before the cutoff.
// Their history is kept.
func (s *MemoryStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, g := range s.groups {
		if g.Status != StatusActive && g.ClosedAt != nil && g.ClosedAt.Before(before) {
			delete(s.groups, id)
			n++
		}
	}
	return n, nil
}
