package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stormglade/swingtimer/internal/audit"
)

// AuditArchive persists flushed audit entries for long-term retention and
// offline analysis. It satisfies audit.Sink, so it can be wired directly as
// a flush target alongside (or instead of) the dated NDJSON files.
type AuditArchive struct {
	db *pgxpool.Pool
}

// NewAuditArchive creates an AuditArchive backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAuditArchive(db *pgxpool.Pool) *AuditArchive {
	return &AuditArchive{db: db}
}

// Write implements audit.Sink by batch-inserting entries.
func (a *AuditArchive) Write(entries []audit.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.InsertBatch(ctx, entries)
}

// InsertBatch appends entries in a single round trip.
//
// Postcondition: Either every entry is persisted or a non-nil error is
// returned and none are considered flushed.
func (a *AuditArchive) InsertBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range entries {
		e := &entries[i]
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("encoding detail for actor %s: %w", e.ActorID, err)
		}
		batch.Queue(`
			INSERT INTO audit_entries
				(observed_at, actor_id, actor_name, action_type, provider,
				 expected_ms, actual_ms, variance_ms, weapon_id, weapon_name,
				 quickness, detail, level)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			e.Timestamp, e.ActorID, e.ActorName, e.ActionType, e.Provider,
			e.ExpectedMs, e.ActualMs, e.VarianceMs, e.WeaponID, e.WeaponName,
			e.Quickness, detail, e.Level,
		)
	}
	br := a.db.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting audit entry: %w", err)
		}
	}
	return nil
}

// ListByActor returns up to limit archived entries for actorID observed
// after since, oldest first.
//
// Precondition: limit must be > 0.
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (a *AuditArchive) ListByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]audit.Entry, error) {
	rows, err := a.db.Query(ctx, `
		SELECT observed_at, actor_id, actor_name, action_type, provider,
		       expected_ms, actual_ms, variance_ms, weapon_id, weapon_name,
		       quickness, detail, level
		FROM audit_entries
		WHERE actor_id = $1 AND observed_at > $2
		ORDER BY observed_at ASC
		LIMIT $3`,
		actorID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountSince returns the number of archived entries observed after since.
func (a *AuditArchive) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := a.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE observed_at > $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting audit entries: %w", err)
	}
	return n, nil
}

// DeleteOlderThan applies retention, removing entries observed before cutoff.
//
// Postcondition: Returns the number of rows removed or a non-nil error.
func (a *AuditArchive) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := a.db.Exec(ctx,
		`DELETE FROM audit_entries WHERE observed_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting aged audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanEntries converts rows into audit entries.
func scanEntries(rows pgx.Rows) ([]audit.Entry, error) {
	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var detail []byte
		if err := rows.Scan(
			&e.Timestamp, &e.ActorID, &e.ActorName, &e.ActionType, &e.Provider,
			&e.ExpectedMs, &e.ActualMs, &e.VarianceMs, &e.WeaponID, &e.WeaponName,
			&e.Quickness, &detail, &e.Level,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if len(detail) > 0 && string(detail) != "null" {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decoding detail: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return out, nil
}
