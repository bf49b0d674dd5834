// Package postgres provides the PostgreSQL implementation of the item store.
//
// PostgreSQL suits server-class deployments with larger item populations
// and concurrent sweep workers. Embeddings are stored as JSON strings in
// TEXT columns; neighbor similarity is calculated in memory.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/signals"
	"github.com/oceanbase/memtier-go/pkg/store"
)

// Client implements store.ItemStore, store.AuditLog and store.Checkpoints
// using PostgreSQL as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for creating a PostgreSQL item store.
type Config struct {
	// Host is the PostgreSQL server host.
	Host string

	// Port is the PostgreSQL server port.
	Port int

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// DBName is the database name.
	DBName string

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full).
	SSLMode string
}

// NewClient creates a new PostgreSQL item store client.
//
// Parameters:
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: The PostgreSQL client instance
//   - error: Error if connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{db: db}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id BIGINT PRIMARY KEY,
			content_ref TEXT,
			content TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			tier TEXT NOT NULL,
			compression_level TEXT NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			reinforcement_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_at TIMESTAMPTZ,
			reactivated BOOLEAN NOT NULL DEFAULT FALSE,
			retention_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			uniqueness DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			access_recency DOUBLE PRECISION NOT NULL DEFAULT 0,
			composite_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			memory_strength DOUBLE PRECISION NOT NULL DEFAULT 0,
			retention_probability DOUBLE PRECISION NOT NULL DEFAULT 0,
			embedding TEXT,
			previous_tier TEXT,
			tier_changed_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_tier ON items(tier, id)`,
		`CREATE TABLE IF NOT EXISTS access_events (
			item_id BIGINT NOT NULL,
			accessed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_events_item ON access_events(item_id, accessed_at)`,
		`CREATE TABLE IF NOT EXISTS evaluations (
			id BIGINT PRIMARY KEY,
			item_id BIGINT NOT NULL,
			from_tier TEXT NOT NULL,
			to_tier TEXT NOT NULL,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_item ON evaluations(item_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS sweep_checkpoints (
			name TEXT PRIMARY KEY,
			last_id BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// InsertItem inserts a new item with version 1.
func (c *Client) InsertItem(ctx context.Context, item *core.MemoryItem) error {
	embeddingJSON, err := json.Marshal(item.Embedding)
	if err != nil {
		return fmt.Errorf("InsertItem: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO items
		(id, content_ref, content, created_at, tier, compression_level,
		 access_count, reinforcement_count, last_accessed_at, reactivated,
		 retention_value, uniqueness, confidence, access_recency,
		 composite_score, memory_strength, retention_probability,
		 embedding, previous_tier, tier_changed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1)
	`,
		item.ID, item.ContentRef, item.Content, item.CreatedAt,
		string(item.Tier), string(item.CompressionLevel),
		item.AccessCount, item.ReinforcementCount, nullTime(item.LastAccessedAt), item.Reactivated,
		item.Signals.RetentionValue, item.Signals.Uniqueness,
		item.Signals.Confidence, item.Signals.AccessRecency,
		item.CompositeScore, item.MemoryStrength, item.RetentionProbability,
		string(embeddingJSON), string(item.PreviousTier), item.TierChangedAt,
	)
	if err != nil {
		return transientErr("InsertItem", err)
	}
	item.Version = 1
	return nil
}

const itemColumns = `id, content_ref, content, created_at, tier, compression_level,
	access_count, reinforcement_count, last_accessed_at, reactivated,
	retention_value, uniqueness, confidence, access_recency,
	composite_score, memory_strength, retention_probability,
	embedding, previous_tier, tier_changed_at, version`

// GetItem retrieves an item by id, including its current version.
func (c *Client) GetItem(ctx context.Context, id int64) (*core.MemoryItem, error) {
	row := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM items WHERE id = $1`, itemColumns), id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	return item, nil
}

// QueryItems retrieves items matching the filter in ascending id order.
// DELETED items are never returned.
func (c *Client) QueryItems(ctx context.Context, filter *store.Filter) ([]*core.MemoryItem, error) {
	if filter == nil {
		filter = &store.Filter{}
	}

	query := fmt.Sprintf(`SELECT %s FROM items WHERE tier != $1 AND id > $2`, itemColumns)
	args := []interface{}{string(core.TierDeleted), filter.AfterID}

	if len(filter.Tiers) > 0 {
		placeholders := make([]string, len(filter.Tiers))
		for i, t := range filter.Tiers {
			args = append(args, string(t))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND tier IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transientErr("QueryItems", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*core.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("QueryItems: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, transientErr("QueryItems", err)
	}
	return items, nil
}

// UpdateItem applies a partial update guarded by the expected version.
func (c *Client) UpdateItem(ctx context.Context, id int64, update *store.ItemUpdate, expectedVersion int64) error {
	if update == nil || update.Empty() {
		return nil
	}

	set := []string{"version = version + 1"}
	var args []interface{}

	add := func(column string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Tier != nil {
		add("tier", string(*update.Tier))
	}
	if update.PreviousTier != nil {
		add("previous_tier", string(*update.PreviousTier))
	}
	if update.TierChangedAt != nil {
		add("tier_changed_at", *update.TierChangedAt)
	}
	if update.CompressionLevel != nil {
		add("compression_level", string(*update.CompressionLevel))
	}
	if update.Content != nil {
		add("content", *update.Content)
	}
	if update.Signals != nil {
		add("retention_value", update.Signals.RetentionValue)
		add("uniqueness", update.Signals.Uniqueness)
		add("confidence", update.Signals.Confidence)
		add("access_recency", update.Signals.AccessRecency)
	}
	if update.CompositeScore != nil {
		add("composite_score", *update.CompositeScore)
	}
	if update.MemoryStrength != nil {
		add("memory_strength", *update.MemoryStrength)
	}
	if update.RetentionProbability != nil {
		add("retention_probability", *update.RetentionProbability)
	}
	if update.Reactivated != nil {
		add("reactivated", *update.Reactivated)
	}

	args = append(args, id)
	idPos := len(args)
	args = append(args, expectedVersion)
	versionPos := len(args)

	query := fmt.Sprintf("UPDATE items SET %s WHERE id = $%d AND version = $%d",
		strings.Join(set, ", "), idPos, versionPos)

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return transientErr("UpdateItem", err)
	}
	return c.casOutcome(ctx, res, id, "UpdateItem", core.ErrVersionConflict)
}

// DeleteItem marks an item DELETED, guarded by both the expected version and
// the expected access count so a concurrent access refuses the deletion.
func (c *Client) DeleteItem(ctx context.Context, id int64, expectedVersion int64, expectedAccessCount int) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE items
		SET previous_tier = tier, tier = $1, tier_changed_at = $2,
		    content = '', embedding = NULL, version = version + 1
		WHERE id = $3 AND version = $4 AND access_count = $5 AND tier != $6
	`, string(core.TierDeleted), time.Now(), id, expectedVersion, expectedAccessCount, string(core.TierDeleted))
	if err != nil {
		return transientErr("DeleteItem", err)
	}
	return c.casOutcome(ctx, res, id, "DeleteItem", core.ErrPreconditionFailed)
}

// casOutcome distinguishes a missing row from a lost guard after a
// conditional write affected zero rows.
func (c *Client) casOutcome(ctx context.Context, res sql.Result, id int64, op string, guardErr error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = c.db.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = $1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return core.ErrNotFound
	}
	if err != nil {
		return transientErr(op, err)
	}
	return guardErr
}

// RecordAccess applies one access event: an access row plus commutative
// counter increments, independent of the version counter.
func (c *Client) RecordAccess(ctx context.Context, id int64, at time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return transientErr("RecordAccess", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET access_count = access_count + 1,
		    reinforcement_count = reinforcement_count + 1,
		    last_accessed_at = $1,
		    reactivated = CASE WHEN tier = $2 THEN TRUE ELSE reactivated END
		WHERE id = $3 AND tier != $4
	`, at, string(core.TierCold), id, string(core.TierDeleted))
	if err != nil {
		return transientErr("RecordAccess", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RecordAccess: %w", err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO access_events (item_id, accessed_at) VALUES ($1, $2)`, id, at); err != nil {
		return transientErr("RecordAccess", err)
	}

	if err := tx.Commit(); err != nil {
		return transientErr("RecordAccess", err)
	}
	return nil
}

// AccessHistory returns the item's access events at or after since, oldest first.
func (c *Client) AccessHistory(ctx context.Context, id int64, since time.Time) ([]core.AccessEvent, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT item_id, accessed_at FROM access_events
		WHERE item_id = $1 AND accessed_at >= $2
		ORDER BY accessed_at
	`, id, since)
	if err != nil {
		return nil, transientErr("AccessHistory", err)
	}
	defer func() { _ = rows.Close() }()

	var events []core.AccessEvent
	for rows.Next() {
		var ev core.AccessEvent
		if err := rows.Scan(&ev.ItemID, &ev.AccessedAt); err != nil {
			return nil, fmt.Errorf("AccessHistory: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, transientErr("AccessHistory", err)
	}
	return events, nil
}

// SimilarEmbeddings returns up to topK neighbors by cosine similarity,
// calculated in memory over the stored embeddings.
func (c *Client) SimilarEmbeddings(ctx context.Context, id int64, embedding []float64, topK int) ([]store.Neighbor, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, embedding FROM items
		WHERE id != $1 AND tier != $2 AND embedding IS NOT NULL AND embedding != '' AND embedding != 'null'
	`, id, string(core.TierDeleted))
	if err != nil {
		return nil, transientErr("SimilarEmbeddings", err)
	}
	defer func() { _ = rows.Close() }()

	var neighbors []store.Neighbor
	for rows.Next() {
		var otherID int64
		var embeddingJSON string
		if err := rows.Scan(&otherID, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("SimilarEmbeddings: %w", err)
		}

		var other []float64
		if err := json.Unmarshal([]byte(embeddingJSON), &other); err != nil {
			continue
		}
		neighbors = append(neighbors, store.Neighbor{
			ItemID:     otherID,
			Similarity: signals.CosineSimilarity(embedding, other),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, transientErr("SimilarEmbeddings", err)
	}

	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity > neighbors[j].Similarity
	})
	if topK > 0 && len(neighbors) > topK {
		neighbors = neighbors[:topK]
	}
	return neighbors, nil
}

// AppendEvaluation appends one transition record to the audit trail.
func (c *Client) AppendEvaluation(ctx context.Context, result *core.EvaluationResult) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, item_id, from_tier, to_tier, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, result.ID, result.ItemID, string(result.FromTier), string(result.ToTier),
		result.Reason, result.CreatedAt)
	if err != nil {
		return transientErr("AppendEvaluation", err)
	}
	return nil
}

// QueryEvaluations returns audit records for an item within [from, to],
// oldest first. itemID 0 matches all items.
func (c *Client) QueryEvaluations(ctx context.Context, itemID int64, from, to time.Time) ([]*core.EvaluationResult, error) {
	query := `
		SELECT id, item_id, from_tier, to_tier, reason, created_at
		FROM evaluations
		WHERE created_at >= $1 AND created_at <= $2`
	args := []interface{}{from, to}
	if itemID != 0 {
		args = append(args, itemID)
		query += fmt.Sprintf(` AND item_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transientErr("QueryEvaluations", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*core.EvaluationResult
	for rows.Next() {
		r := &core.EvaluationResult{}
		var fromTier, toTier string
		if err := rows.Scan(&r.ID, &r.ItemID, &fromTier, &toTier, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("QueryEvaluations: %w", err)
		}
		r.FromTier, r.ToTier = core.Tier(fromTier), core.Tier(toTier)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, transientErr("QueryEvaluations", err)
	}
	return results, nil
}

// LoadCheckpoint returns the last committed item id for the named sweep.
func (c *Client) LoadCheckpoint(ctx context.Context, name string) (int64, error) {
	var lastID int64
	err := c.db.QueryRowContext(ctx,
		`SELECT last_id FROM sweep_checkpoints WHERE name = $1`, name).Scan(&lastID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, transientErr("LoadCheckpoint", err)
	}
	return lastID, nil
}

// SaveCheckpoint records the last item id whose evaluation committed.
func (c *Client) SaveCheckpoint(ctx context.Context, name string, lastID int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sweep_checkpoints (name, last_id, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET last_id = EXCLUDED.last_id, updated_at = EXCLUDED.updated_at
	`, name, lastID, time.Now())
	if err != nil {
		return transientErr("SaveCheckpoint", err)
	}
	return nil
}

// ClearCheckpoint resets the named sweep to the start of the id space.
func (c *Client) ClearCheckpoint(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sweep_checkpoints WHERE name = $1`, name)
	if err != nil {
		return transientErr("ClearCheckpoint", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanItem scans one item row.
func scanItem(s scanner) (*core.MemoryItem, error) {
	item := &core.MemoryItem{}
	var (
		contentRef    sql.NullString
		tierStr       string
		levelStr      string
		lastAccessed  sql.NullTime
		embeddingJSON sql.NullString
		previousTier  sql.NullString
		tierChangedAt sql.NullTime
	)

	err := s.Scan(
		&item.ID, &contentRef, &item.Content, &item.CreatedAt, &tierStr, &levelStr,
		&item.AccessCount, &item.ReinforcementCount, &lastAccessed, &item.Reactivated,
		&item.Signals.RetentionValue, &item.Signals.Uniqueness,
		&item.Signals.Confidence, &item.Signals.AccessRecency,
		&item.CompositeScore, &item.MemoryStrength, &item.RetentionProbability,
		&embeddingJSON, &previousTier, &tierChangedAt, &item.Version,
	)
	if err != nil {
		return nil, err
	}

	item.ContentRef = contentRef.String
	item.Tier = core.Tier(tierStr)
	item.CompressionLevel = core.CompressionLevel(levelStr)
	if lastAccessed.Valid {
		t := lastAccessed.Time
		item.LastAccessedAt = &t
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("scanItem: bad embedding: %w", err)
		}
	}
	item.PreviousTier = core.Tier(previousTier.String)
	if tierChangedAt.Valid {
		item.TierChangedAt = tierChangedAt.Time
	}
	return item, nil
}

// nullTime converts a *time.Time into a driver-friendly value.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// transientErr tags a driver failure as retryable.
func transientErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, core.ErrStoreUnavailable, err)
}
