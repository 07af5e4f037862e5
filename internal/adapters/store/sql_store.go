package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// SQLStore implements the dedup store and the node registry on one database.
// Queries are written with ? placeholders and rebound to $N for postgres, so
// the same statements run on both supported drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore wraps an already-opened database. Used directly by tests;
// production code goes through Open.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Open connects, constrains the pool and creates the schema. The sqlite pool
// is capped at one connection to serialize writers instead of surfacing
// SQLITE_BUSY to the hot path.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate creates the two durable collections: processed-message records and
// node records. DDL is restricted to what sqlite and postgres both accept.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processed_messages (
			fingerprint TEXT PRIMARY KEY,
			link_tag    TEXT NOT NULL,
			first_seen  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_first_seen ON processed_messages (first_seen)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			node_id    TEXT PRIMARY KEY,
			long_name  TEXT NOT NULL DEFAULT '',
			short_name TEXT NOT NULL DEFAULT '',
			hw_model   TEXT NOT NULL DEFAULT '',
			updated_at BIGINT NOT NULL DEFAULT 0,
			last_seen  BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) HasSeen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(1) FROM processed_messages WHERE fingerprint = ?`),
		string(fp)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: dedup lookup: %w", err)
	}
	return n > 0, nil
}

// MarkSeen inserts the fingerprint if absent. The conflict target makes the
// check-and-insert atomic: racing callers resolve inside the engine and only
// the winner sees inserted=true.
func (s *SQLStore) MarkSeen(ctx context.Context, fp domain.Fingerprint, linkTag string, ts time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO processed_messages (fingerprint, link_tag, first_seen)
			VALUES (?, ?, ?) ON CONFLICT (fingerprint) DO NOTHING`),
		string(fp), linkTag, ts.Unix())
	if err != nil {
		return false, fmt.Errorf("store: dedup insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: dedup insert result: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) Prune(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().Add(-horizon).Unix()
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM processed_messages WHERE first_seen < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune result: %w", err)
	}
	return n, nil
}

// UpsertIdentity applies last-write-wins per field group: identity fields
// move only forward in updated_at, last_seen only ever grows. A stale
// identity packet still advances last_seen.
func (s *SQLStore) UpsertIdentity(ctx context.Context, id domain.NodeIdentity) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO nodes (node_id, long_name, short_name, hw_model, updated_at, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (node_id) DO UPDATE SET
				long_name  = CASE WHEN excluded.updated_at >= nodes.updated_at THEN excluded.long_name  ELSE nodes.long_name  END,
				short_name = CASE WHEN excluded.updated_at >= nodes.updated_at THEN excluded.short_name ELSE nodes.short_name END,
				hw_model   = CASE WHEN excluded.updated_at >= nodes.updated_at THEN excluded.hw_model   ELSE nodes.hw_model   END,
				updated_at = CASE WHEN excluded.updated_at >= nodes.updated_at THEN excluded.updated_at ELSE nodes.updated_at END,
				last_seen  = CASE WHEN excluded.last_seen  >  nodes.last_seen  THEN excluded.last_seen  ELSE nodes.last_seen  END`),
		id.NodeID.Hex(), id.LongName, id.ShortName, id.HwModel, id.UpdatedAt.Unix(), id.LastSeen.Unix())
	if err != nil {
		return fmt.Errorf("store: upsert identity: %w", err)
	}
	return nil
}

// TouchLastSeen records a sighting of a node that sent no identity fields,
// creating the record on first sighting.
func (s *SQLStore) TouchLastSeen(ctx context.Context, node domain.NodeID, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO nodes (node_id, last_seen) VALUES (?, ?)
			ON CONFLICT (node_id) DO UPDATE SET
				last_seen = CASE WHEN excluded.last_seen > nodes.last_seen THEN excluded.last_seen ELSE nodes.last_seen END`),
		node.Hex(), ts.Unix())
	if err != nil {
		return fmt.Errorf("store: touch last seen: %w", err)
	}
	return nil
}

func (s *SQLStore) ResolveName(ctx context.Context, node domain.NodeID) (domain.NodeIdentity, bool, error) {
	var (
		longName, shortName, hwModel string
		updatedAt, lastSeen          int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT long_name, short_name, hw_model, updated_at, last_seen FROM nodes WHERE node_id = ?`),
		node.Hex()).Scan(&longName, &shortName, &hwModel, &updatedAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NodeIdentity{NodeID: node}, false, nil
	}
	if err != nil {
		return domain.NodeIdentity{}, false, fmt.Errorf("store: resolve name: %w", err)
	}
	return domain.NodeIdentity{
		NodeID:    node,
		LongName:  longName,
		ShortName: shortName,
		HwModel:   hwModel,
		UpdatedAt: time.Unix(updatedAt, 0),
		LastSeen:  time.Unix(lastSeen, 0),
	}, true, nil
}

func (s *SQLStore) ListNodes(ctx context.Context) ([]domain.NodeIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT node_id, long_name, short_name, hw_model, updated_at, last_seen
			FROM nodes ORDER BY last_seen DESC`))
	if err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	defer rows.Close()

	var out []domain.NodeIdentity
	for rows.Next() {
		var (
			hexID, longName, shortName, hwModel string
			updatedAt, lastSeen                 int64
		)
		if err := rows.Scan(&hexID, &longName, &shortName, &hwModel, &updatedAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		num, err := strconv.ParseUint(hexID, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("store: bad node id %q: %w", hexID, err)
		}
		out = append(out, domain.NodeIdentity{
			NodeID:    domain.NodeID(num),
			LongName:  longName,
			ShortName: shortName,
			HwModel:   hwModel,
			UpdatedAt: time.Unix(updatedAt, 0),
			LastSeen:  time.Unix(lastSeen, 0),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("store: reset nodes: %w", err)
	}
	return nil
}

// Counts reports table sizes for operator commands.
func (s *SQLStore) Counts(ctx context.Context) (processed, nodes int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed_messages`).Scan(&processed); err != nil {
		return 0, 0, fmt.Errorf("store: count processed: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM nodes`).Scan(&nodes); err != nil {
		return 0, 0, fmt.Errorf("store: count nodes: %w", err)
	}
	return processed, nodes, nil
}

// RunSweeper prunes the dedup store on a fixed interval until ctx ends.
// Blocks; run it on its own goroutine.
func RunSweeper(ctx context.Context, s ports.DedupStore, every, horizon time.Duration, obs ports.Observability) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed, err := s.Prune(ctx, horizon)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				obs.LogError("retention sweep failed", err)
				continue
			}
			if removed > 0 {
				obs.IncCounter("meshcord_records_pruned_total", float64(removed))
				obs.LogInfo("retention sweep",
					ports.Field{Key: "removed", Value: removed},
					ports.Field{Key: "horizon", Value: horizon.String()})
			}
		}
	}
}

func (s *SQLStore) rebind(q string) string {
	if s.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	_ ports.DedupStore   = (*SQLStore)(nil)
	_ ports.NodeRegistry = (*SQLStore)(nil)
)
