// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists element finder diagnostics in PostgreSQL. It satisfies
// element.LogSink.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

const sqlInsertRecord = `
        INSERT INTO element_finder_log (id, tracking_id, status, strategy, matched, semantic_nodes, duration_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

// Append writes one finder record.
func (s *Store) Append(ctx context.Context, info schemas.ElementFinderInfo) error {
	nodes := info.SemanticNodes
	if nodes == nil {
		nodes = []schemas.SemanticNodeInfo{}
	}
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("failed to encode semantic nodes: %w", err)
	}
	matched := info.MatchedBackendIDs
	if matched == nil {
		matched = []int64{}
	}

	tag, err := s.pool.Exec(ctx, sqlInsertRecord,
		uuid.New(), info.TrackingID, info.Status.String(), info.Strategy,
		matched, nodesJSON, info.Duration.Milliseconds(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert finder record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("unexpected insert count for finder record: %d", tag.RowsAffected())
	}
	s.log.Debug("Stored finder record",
		zap.String("tracking_id", info.TrackingID),
		zap.Stringer("status", info.Status))
	return nil
}

const sqlSelectRecords = `
        SELECT tracking_id, status, strategy, matched, semantic_nodes, duration_ms
        FROM element_finder_log
        WHERE tracking_id = $1
        ORDER BY created_at DESC
        LIMIT $2;
    `

// RecordsByTrackingID returns the most recent records for a tracking id,
// newest first.
func (s *Store) RecordsByTrackingID(ctx context.Context, trackingID string, limit int) ([]schemas.ElementFinderInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, sqlSelectRecords, trackingID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query finder records: %w", err)
	}
	defer rows.Close()

	var out []schemas.ElementFinderInfo
	for rows.Next() {
		var (
			info       schemas.ElementFinderInfo
			status     string
			nodesJSON  []byte
			durationMS int64
		)
		if err := rows.Scan(&info.TrackingID, &status, &info.Strategy, &info.MatchedBackendIDs, &nodesJSON, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan finder record row: %w", err)
		}
		info.Status = schemas.ParseStatusCode(status)
		if len(nodesJSON) > 0 {
			if err := json.Unmarshal(nodesJSON, &info.SemanticNodes); err != nil {
				return nil, fmt.Errorf("failed to decode semantic nodes: %w", err)
			}
		}
		if len(info.SemanticNodes) == 0 {
			info.SemanticNodes = nil
		}
		if len(info.MatchedBackendIDs) == 0 {
			info.MatchedBackendIDs = nil
		}
		info.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
