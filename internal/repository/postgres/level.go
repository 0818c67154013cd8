package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	repo "osmlevels/internal/domain/repositories/hierarchy"
)

// PostgresLevelSource reads organizational trees from the levels table.
// Each row is one level; parent_id is NULL at the root.
type PostgresLevelSource struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewLevelSource creates a level source on the shared pool
func NewLevelSource(config *RepositoryConfig) *PostgresLevelSource {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLevelSource{
		pool:   config.Pool,
		tables: config.Tables,
		logger: logger,
	}
}

// EnsureSchema creates the levels table when missing
func (s *PostgresLevelSource) EnsureSchema(ctx context.Context) error {
	t := s.tables.Levels
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			tree_id    TEXT NOT NULL,
			id         TEXT NOT NULL,
			parent_id  TEXT,
			name       TEXT NOT NULL,
			machine_id TEXT,
			payload    JSONB,
			PRIMARY KEY (tree_id, id)
		)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_parent_idx ON %s (tree_id, parent_id)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_machine_idx ON %s (tree_id, machine_id)`, t, t),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create %s: %w", t, err)
		}
	}
	return nil
}

// InsertLevel upserts one level row
func (s *PostgresLevelSource) InsertLevel(ctx context.Context, treeID string, n models.Node) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (tree_id, id, parent_id, name, machine_id, payload)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (tree_id, id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			name = EXCLUDED.name,
			machine_id = EXCLUDED.machine_id,
			payload = EXCLUDED.payload
	`, s.tables.Levels)

	var payload []byte
	if len(n.Payload) > 0 {
		payload = n.Payload
	}
	_, err := GetExecutor(ctx, s.pool).Exec(ctx, query, treeID, n.ID, n.ParentID, n.Name, n.ExternalID, payload)
	if err != nil {
		return fmt.Errorf("insert level %s: %w", n.ID, err)
	}
	return nil
}

// DeleteTree removes every level row of treeID
func (s *PostgresLevelSource) DeleteTree(ctx context.Context, treeID string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE tree_id = $1`, s.tables.Levels)
	tag, err := GetExecutor(ctx, s.pool).Exec(ctx, query, treeID)
	if err != nil {
		return 0, fmt.Errorf("delete tree %s: %w", treeID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresLevelSource) FetchChildren(ctx context.Context, treeID, parentID string) ([]models.Node, error) {
	query := fmt.Sprintf(`
		SELECT l.id, l.name, l.parent_id, COALESCE(l.machine_id, ''), l.payload,
			(SELECT count(*) FROM %[1]s c WHERE c.tree_id = l.tree_id AND c.parent_id = l.id)
		FROM %[1]s l
		WHERE l.tree_id = $1 AND l.parent_id IS NOT DISTINCT FROM $2
		ORDER BY l.name, l.id
	`, s.tables.Levels)

	rows, err := s.pool.Query(ctx, query, treeID, models.ParentRef(parentID))
	if err != nil {
		return nil, s.fetchError("children", err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, s.fetchError("children", err)
	}

	s.logger.Debug("fetched children",
		"tree_id", treeID,
		"parent_id", parentID,
		"count", len(nodes),
	)
	return nodes, nil
}

// FetchPathByExternalID walks up from the level carrying externalID. When
// several levels share the machine id, the one with the lowest id wins.
func (s *PostgresLevelSource) FetchPathByExternalID(ctx context.Context, treeID, externalID string) ([]models.Node, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE chain AS (
			(SELECT tree_id, id, parent_id, name, machine_id, payload, 0 AS hops
			FROM %[1]s
			WHERE tree_id = $1 AND machine_id = $2
			ORDER BY id
			LIMIT 1)
			UNION ALL
			SELECT p.tree_id, p.id, p.parent_id, p.name, p.machine_id, p.payload, chain.hops + 1
			FROM %[1]s p
			JOIN chain ON p.tree_id = chain.tree_id AND p.id = chain.parent_id
		)
		SELECT chain.id, chain.name, chain.parent_id, COALESCE(chain.machine_id, ''), chain.payload,
			(SELECT count(*) FROM %[1]s c WHERE c.tree_id = chain.tree_id AND c.parent_id = chain.id)
		FROM chain
		ORDER BY chain.hops DESC
	`, s.tables.Levels)

	rows, err := s.pool.Query(ctx, query, treeID, externalID)
	if err != nil {
		return nil, s.fetchError("path", err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, s.fetchError("path", err)
	}
	return nodes, nil
}

func (s *PostgresLevelSource) FetchStats(ctx context.Context, treeID string) (models.Stats, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE walk AS (
			SELECT id, 1 AS depth FROM %[1]s WHERE tree_id = $1 AND parent_id IS NULL
			UNION ALL
			SELECT c.id, walk.depth + 1
			FROM %[1]s c
			JOIN walk ON c.parent_id = walk.id
			WHERE c.tree_id = $1
		)
		SELECT
			(SELECT count(*) FROM %[1]s WHERE tree_id = $1),
			(SELECT count(*) FROM %[1]s WHERE tree_id = $1 AND parent_id IS NULL),
			COALESCE((SELECT max(depth) FROM walk), 0)
	`, s.tables.Levels)

	var total, roots, maxDepth int64
	if err := s.pool.QueryRow(ctx, query, treeID).Scan(&total, &roots, &maxDepth); err != nil {
		return models.Stats{}, s.fetchError("stats", err)
	}
	return models.Stats{
		TotalNodes: int(total),
		RootCount:  int(roots),
		MaxDepth:   int(maxDepth),
	}, nil
}

func (s *PostgresLevelSource) fetchError(op string, err error) error {
	if IsPgUndefinedTableError(err) {
		s.logger.Error("levels table missing", "table", s.tables.Levels, "error", err)
	}
	return domain.NewFetchError(op, err)
}

func scanNodes(rows pgx.Rows) ([]models.Node, error) {
	defer rows.Close()

	nodes := []models.Node{}
	for rows.Next() {
		var n models.Node
		var payload []byte
		var count int64
		if err := rows.Scan(&n.ID, &n.Name, &n.ParentID, &n.ExternalID, &payload, &count); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		if len(payload) > 0 {
			n.Payload = json.RawMessage(payload)
		}
		n.ChildrenCount = int(count)
		n.HasChildren = count > 0
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}

var _ repo.LevelSource = (*PostgresLevelSource)(nil)
