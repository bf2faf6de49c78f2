package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/settlement"
)

// document is the JSONB payload holding the mutable part of a group.
type document struct {
	Members  []string             `json:"members"`
	Expenses []settlement.Expense `json:"expenses"`
	Edges    []settlement.Edge    `json:"edges"`
}

var _ ledger.Store = (*DB)(nil)

const groupColumns = `id, guild_id, channel_id, name, status, version, document, created_at, updated_at, closed_at`

func scanGroup(row pgx.Row) (*ledger.Group, error) {
	var (
		g      ledger.Group
		status string
		raw    []byte
	)
	if err := row.Scan(&g.ID, &g.GuildID, &g.ChannelID, &g.Name, &status, &g.Version, &raw, &g.CreatedAt, &g.UpdatedAt, &g.ClosedAt); err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode group %s: %w", g.ID, err)
	}
	g.Status = ledger.Status(status)
	g.Members = doc.Members
	g.Expenses = doc.Expenses
	g.Edges = doc.Edges
	return &g, nil
}

func encodeDocument(g *ledger.Group) ([]byte, error) {
	return json.Marshal(document{Members: g.Members, Expenses: g.Expenses, Edges: g.Edges})
}

// CreateGroup inserts a new group at version 1.
func (db *DB) CreateGroup(ctx context.Context, g *ledger.Group) error {
	doc, err := encodeDocument(g)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO warikan_groups (id, guild_id, channel_id, name, status, version, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $7)`,
		g.ID, g.GuildID, g.ChannelID, g.Name, string(g.Status), doc, g.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &settlement.StateError{GroupID: g.ID, Status: "already open in this channel"}
		}
		return err
	}
	g.Version = 1
	return nil
}

func (db *DB) Group(ctx context.Context, id string) (*ledger.Group, error) {
	g, err := scanGroup(db.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM warikan_groups WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &settlement.NotFoundError{Kind: "group", ID: id}
	}
	return g, err
}

// GroupByChannel returns the active group for the given channel, if any.
func (db *DB) GroupByChannel(ctx context.Context, channelID string) (*ledger.Group, error) {
	g, err := scanGroup(db.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM warikan_groups WHERE channel_id = $1 AND status = 'active' LIMIT 1`, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &settlement.NotFoundError{Kind: "group for channel", ID: channelID}
	}
	return g, err
}

// SaveGroup writes the group if nobody saved it since expectedVersion was
// read, and appends the history entry in the same transaction.
func (db *DB) SaveGroup(ctx context.Context, g *ledger.Group, expectedVersion int64, entry *ledger.HistoryEntry) error {
	doc, err := encodeDocument(g)
	if err != nil {
		return err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx,
		`UPDATE warikan_groups
		 SET name = $3, status = $4, version = version + 1, document = $5, updated_at = $6, closed_at = $7
		 WHERE id = $1 AND version = $2`,
		g.ID, expectedVersion, g.Name, string(g.Status), doc, g.UpdatedAt, g.ClosedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warikan_groups WHERE id = $1)`, g.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return &settlement.NotFoundError{Kind: "group", ID: g.ID}
		}
		return ledger.ErrVersionConflict
	}

	if entry != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO warikan_history (group_id, group_name, from_id, to_id, amount, settled_at)
			 VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
			g.ID, g.Name, entry.From, entry.To, entry.Amount.StringFixed(2), entry.SettledAt,
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	g.Version = expectedVersion + 1
	return nil
}

// History returns the settled edges of a group in settlement order. The
// archive outlives the group row, so a purged group still has its history.
func (db *DB) History(ctx context.Context, groupID string) (*ledger.History, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT group_name, from_id, to_id, amount::text, settled_at
		 FROM warikan_history
		 WHERE group_id = $1
		 ORDER BY id`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := &ledger.History{GroupID: groupID}
	for rows.Next() {
		var (
			e      ledger.HistoryEntry
			amount string
		)
		if err := rows.Scan(&h.GroupName, &e.From, &e.To, &amount, &e.SettledAt); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("history amount %q: %w", amount, err)
		}
		h.SettledEdges = append(h.SettledEdges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(h.SettledEdges) == 0 {
		g, err := db.Group(ctx, groupID)
		if err != nil {
			return nil, err
		}
		h.GroupName = g.Name
	}
	return h, nil
}

// PurgeExpired deletes completed and deleted groups closed before the cutoff.
// History rows are kept.
func (db *DB) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	ct, err := db.pool.Exec(ctx,
		`DELETE FROM warikan_groups
		 WHERE status IN ('completed', 'deleted') AND closed_at IS NOT NULL AND closed_at < $1`,
		before,
	)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
