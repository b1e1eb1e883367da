package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"strandbus/internal/domain"
)

// Store implements domain.StrandStore backed by SQLite. The table is the
// local materialization of the shared append-only log: inserts only,
// timestamp-ordered reads, and the single idempotent vector fill.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string
}

// timeLayout is fixed-width so lexicographic order over the TEXT column
// matches chronological order. RFC3339Nano trims trailing fractional
// zeros, which makes string comparison diverge from time order at
// sub-second boundaries. Reads still parse RFC3339Nano, which accepts
// any fractional width.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// New opens (or creates) a SQLite database at dbPath, runs migrations,
// and returns a ready Store.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrStrandStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrStrandStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStrandStore, err)
	}

	return &Store{db: db, logger: logger, dbPath: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert implements domain.StrandStore. The strand ID is assigned here
// (a ULID, so IDs sort by creation time) when the caller left it empty.
func (s *Store) Insert(ctx context.Context, strand *domain.Strand) (string, error) {
	now := time.Now().UTC()
	if strand.ID == "" {
		strand.ID = newID(now)
	}
	if strand.CreatedAt.IsZero() {
		strand.CreatedAt = now
	}

	content, err := json.Marshal(strand.Content)
	if err != nil {
		return "", fmt.Errorf("%w: marshal content: %v", domain.ErrStrandStore, err)
	}
	meta, err := json.Marshal(strand.Metadata)
	if err != nil {
		return "", fmt.Errorf("%w: marshal metadata: %v", domain.ErrStrandStore, err)
	}

	var vec []byte
	if strand.ContextVector != nil {
		vec = float32ToBytes(strand.ContextVector)
	}

	const insert = `
		INSERT INTO strands (id, content, tags, source_agent, target_agent, message_metadata, context_vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, insert,
		strand.ID,
		string(content),
		strand.Tags,
		strand.SourceAgent,
		strand.TargetAgent,
		string(meta),
		vec,
		strand.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert: %v", domain.ErrStrandStore, err)
	}
	return strand.ID, nil
}

// Get implements domain.StrandStore.
func (s *Store) Get(ctx context.Context, id string) (*domain.Strand, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, content, tags, source_agent, target_agent, message_metadata, context_vector, created_at FROM strands WHERE id = ?",
		id,
	)
	strand, err := scanStrand(row, s.logger)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", domain.ErrStrandStore, err)
	}
	return strand, nil
}

// Query implements domain.StrandStore. Results are ordered created_at
// descending and capped at q.Limit (default 100).
func (s *Store) Query(ctx context.Context, q domain.StrandQuery) ([]*domain.Strand, error) {
	var (
		conds []string
		args  []any
	)
	if !q.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.Since.UTC().Format(timeLayout))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, q.Until.UTC().Format(timeLayout))
	}
	if q.TagsLike != "" {
		conds = append(conds, "tags LIKE ?")
		args = append(args, q.TagsLike)
	}
	if q.TargetAgent != "" {
		conds = append(conds, "target_agent = ?")
		args = append(args, q.TargetAgent)
	}
	if q.SourceAgent != "" {
		conds = append(conds, "source_agent = ?")
		args = append(args, q.SourceAgent)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, content, tags, source_agent, target_agent, message_metadata, context_vector, created_at FROM strands"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrStrandStore, err)
	}
	defer rows.Close()

	var strands []*domain.Strand
	for rows.Next() {
		strand, err := scanStrand(rows, s.logger)
		if err != nil {
			// Corrupt row: skip the record, not the batch.
			s.logger.Warn("strand store: skipping corrupt row", "error", err)
			continue
		}
		strands = append(strands, strand)
	}
	return strands, rows.Err()
}

// AttachVector implements domain.StrandStore. It fills the context
// vector only when it is still NULL, making retries and duplicate
// indexing passes harmless. Attaching to an already-vectorized strand
// is a no-op.
func (s *Store) AttachVector(ctx context.Context, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrInvalidInput)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE strands SET context_vector = ? WHERE id = ? AND context_vector IS NULL",
		float32ToBytes(vec), id,
	)
	if err != nil {
		return fmt.Errorf("%w: attach vector: %v", domain.ErrStrandStore, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the strand does not exist or it already has a vector.
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM strands WHERE id = ?", id).Scan(&exists); err == nil && exists == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

// PruneRouted deletes routed strands older than maxAge from the local
// store. The shared log is append-only; pruning applies only to the
// locally owned file and only to router-generated copies, never to
// original analyzer strands.
func (s *Store) PruneRouted(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(timeLayout)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM strands WHERE source_agent = ? AND created_at < ?",
		domain.RouterAgent, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", domain.ErrStrandStore, err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// newID returns a ULID for the given time. ULIDs keep the primary key
// index append-friendly and make IDs sortable by creation time.
func newID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// scanStrand reads one strand row. JSON/time parse errors on individual
// fields are surfaced so the caller can skip the record.
func scanStrand(row interface{ Scan(dest ...any) error }, logger *slog.Logger) (*domain.Strand, error) {
	var (
		strand    domain.Strand
		content   string
		meta      string
		vecBlob   []byte
		createdAt string
	)
	if err := row.Scan(&strand.ID, &content, &strand.Tags, &strand.SourceAgent, &strand.TargetAgent, &meta, &vecBlob, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(content), &strand.Content); err != nil {
		return nil, fmt.Errorf("corrupt content for %s: %w", strand.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &strand.Metadata); err != nil {
		logger.Warn("strand store: corrupt message_metadata", "id", strand.ID, "error", err)
	}
	if vecBlob != nil {
		strand.ContextVector = bytesToFloat32(vecBlob)
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at for %s: %w", strand.ID, err)
	}
	strand.CreatedAt = t

	return &strand, nil
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
