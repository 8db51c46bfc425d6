package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/ragmcp/internal/errs"
	"github.com/rcliao/ragmcp/internal/model"
)

const tableName = "chunks"

// currentColumns are the metadata columns a fully migrated table carries.
// initialize() probes for their presence to decide whether a migration is
// required.
var currentColumns = []string{"created_at", "updated_at", "memory_type", "tags"}

// SQLiteStore implements Store using a local SQLite database, combining an
// FTS5 virtual table for lexical search with a linear dense-vector scan.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
	started time.Time

	mu           sync.RWMutex
	ftsAvailable bool
	hybridWeight float64
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and runs
// initialize().
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(err, errs.CodeDatabase, "create db directory: "+err.Error(), false)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeDatabase, "open db: "+err.Error(), false)
	}

	s := &SQLiteStore{
		db:           db,
		entropy:      rand.New(rand.NewSource(time.Now().UnixNano())),
		started:      time.Now(),
		hybridWeight: DefaultHybridWeight,
	}

	if err := s.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Initialize opens or prepares the chunks table, migrating its schema if an
// existing table lacks any current metadata column.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	exists, err := s.tableExists(ctx)
	if err != nil {
		return errs.Wrap(err, errs.CodeDatabase, "probe table existence: "+err.Error(), false)
	}

	if exists {
		missing, err := s.missingColumns(ctx)
		if err != nil {
			return errs.Wrap(err, errs.CodeDatabase, "probe schema columns: "+err.Error(), false)
		}
		if len(missing) > 0 {
			if err := s.migrateSchema(ctx); err != nil {
				return errs.Wrap(err, errs.CodeDatabase, "schema migration: "+err.Error(), false)
			}
		}
	} else {
		if err := s.createTable(ctx); err != nil {
			return errs.Wrap(err, errs.CodeDatabase, "create table: "+err.Error(), false)
		}
	}

	s.ensureFTS(ctx)
	return nil
}

func (s *SQLiteStore) tableExists(ctx context.Context) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) missingColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		present[name] = true
	}

	var missing []string
	for _, c := range currentColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// presentColumns reports which of currentColumns actually exist in the
// table, so a migration triggered by one missing column (e.g. "tags")
// doesn't discard data in another that's already there (e.g. "memory_type").
func (s *SQLiteStore) presentColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		present[name] = true
	}
	return present, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	file_path   TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	vector      BLOB,
	timestamp   TEXT NOT NULL,
	file_name   TEXT,
	file_size   INTEGER,
	file_type   TEXT,
	language    TEXT,
	memory_type TEXT,
	tags        TEXT,
	project     TEXT,
	expires_at  TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_expires ON chunks(expires_at);
CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project);
`

func (s *SQLiteStore) createTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createTableSQL)
	return err
}

// migrateSchema reads every existing row, synthesizes any missing metadata
// field, drops the old table, and recreates it with the current schema
// before re-inserting. A migration of an empty table just drops it, letting
// createTable run fresh on the next insert.
func (s *SQLiteStore) migrateSchema(ctx context.Context) error {
	rows, err := s.readAllLegacyRows(ctx)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, tableName)); err != nil {
		return err
	}

	if len(rows) == 0 {
		return nil
	}

	if err := s.createTable(ctx); err != nil {
		return err
	}
	return s.Insert(ctx, rows)
}

// readAllLegacyRows reads every row under the prior schema, tolerating
// absent columns by selecting only what PRAGMA table_info reports present,
// and synthesizing createdAt/updatedAt from timestamp (or now) and tags as
// an empty list when those columns are missing.
func (s *SQLiteStore) readAllLegacyRows(ctx context.Context) ([]model.Chunk, error) {
	present, err := s.presentColumns(ctx)
	if err != nil {
		return nil, err
	}
	hasMemoryType := present["memory_type"]
	hasTags := present["tags"]
	createdCol, updatedCol := "timestamp", "timestamp"
	if present["created_at"] {
		createdCol = "created_at"
	}
	if present["updated_at"] {
		updatedCol = "updated_at"
	}

	query := `SELECT id, file_path, chunk_index, text, vector, timestamp,
	                 file_name, file_size, file_type, language, project, expires_at, ` + createdCol + `, ` + updatedCol
	if hasMemoryType {
		query += `, memory_type`
	}
	if hasTags {
		query += `, tags`
	}
	query += ` FROM chunks`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Chunk
	now := time.Now().UTC()
	for rows.Next() {
		var c model.Chunk
		var vecBlob []byte
		var ts string
		var fileName, fileType, language, project, expiresAt sql.NullString
		var fileSize sql.NullInt64
		var memoryType, tagsJSON, createdAt, updatedAt sql.NullString

		dest := []any{&c.ID, &c.FilePath, &c.ChunkIndex, &c.Text, &vecBlob, &ts,
			&fileName, &fileSize, &fileType, &language, &project, &expiresAt, &createdAt, &updatedAt}
		if hasMemoryType {
			dest = append(dest, &memoryType)
		}
		if hasTags {
			dest = append(dest, &tagsJSON)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		c.Timestamp, _ = time.Parse(time.RFC3339, ts)
		if c.Timestamp.IsZero() {
			c.Timestamp = now
		}
		c.Vector = decodeVector(vecBlob)
		c.Metadata = model.Metadata{
			FileName:   fileName.String,
			FileSize:   fileSize.Int64,
			FileType:   fileType.String,
			Language:   language.String,
			MemoryType: memoryType.String,
			Project:    project.String,
			Tags:       []string{},
			CreatedAt:  c.Timestamp,
			UpdatedAt:  c.Timestamp,
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			json.Unmarshal([]byte(tagsJSON.String), &c.Metadata.Tags)
		}
		if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
			c.Metadata.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, updatedAt.String); err == nil {
			c.Metadata.UpdatedAt = t
		}
		if expiresAt.Valid {
			t, err := time.Parse(time.RFC3339, expiresAt.String)
			if err == nil {
				c.Metadata.ExpiresAt = &t
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// ensureFTS creates the full-text index and sync triggers. Failure disables
// hybrid mode but never fails initialization.
func (s *SQLiteStore) ensureFTS(ctx context.Context) {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			text, content=chunks, content_rowid=rowid
		)`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
			INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`INSERT OR IGNORE INTO chunks_fts(rowid, text) SELECT rowid, text FROM chunks`,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.ftsAvailable = false
			return
		}
	}
	s.ftsAvailable = true
}

// Insert adds rows, creating the table on first insert if absent.
func (s *SQLiteStore) Insert(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	exists, err := s.tableExists(ctx)
	if err != nil {
		return errs.Wrap(err, errs.CodeDatabase, "probe table existence: "+err.Error(), false)
	}
	if !exists {
		if err := s.createTable(ctx); err != nil {
			return errs.Wrap(err, errs.CodeDatabase, "create table: "+err.Error(), false)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, errs.CodeDatabase, "begin transaction: "+err.Error(), true)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if c.ID == "" {
			c.ID = s.newID()
		}
		var tagsJSON string
		if len(c.Metadata.Tags) > 0 {
			b, _ := json.Marshal(c.Metadata.Tags)
			tagsJSON = string(b)
		}
		var expiresAt *string
		if c.Metadata.ExpiresAt != nil {
			e := c.Metadata.ExpiresAt.UTC().Format(time.RFC3339)
			expiresAt = &e
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, file_path, chunk_index, text, vector, timestamp,
			                     file_name, file_size, file_type, language, memory_type,
			                     tags, project, expires_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.FilePath, c.ChunkIndex, c.Text, encodeVector(c.Vector), c.Timestamp.UTC().Format(time.RFC3339),
			c.Metadata.FileName, c.Metadata.FileSize, c.Metadata.FileType, c.Metadata.Language, c.Metadata.MemoryType,
			tagsJSON, c.Metadata.Project, expiresAt,
			c.Metadata.CreatedAt.UTC().Format(time.RFC3339), c.Metadata.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return errs.Wrap(err, errs.CodeDatabase, "insert chunk row: "+err.Error(), false)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(err, errs.CodeDatabase, "commit transaction: "+err.Error(), true)
	}

	s.ensureFTS(ctx)
	return nil
}

// Delete removes every row with the given filePath. Missing rows are not an
// error.
func (s *SQLiteStore) Delete(ctx context.Context, filePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, filePath)
	if err != nil {
		return errs.Wrap(err, errs.CodeDatabase, "delete rows: "+err.Error(), false)
	}
	s.ensureFTS(ctx)
	return nil
}

// GetByLabel returns all chunk rows for memory://<label>, sorted by
// chunkIndex.
func (s *SQLiteStore) GetByLabel(ctx context.Context, label string) ([]model.Chunk, error) {
	return s.RowsByPath(ctx, model.MemoryPath(label))
}

// RowsByPath returns every row for filePath, sorted by chunkIndex.
func (s *SQLiteStore) RowsByPath(ctx context.Context, filePath string) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path, chunk_index, text, vector, timestamp,
		        file_name, file_size, file_type, language, memory_type, tags, project,
		        expires_at, created_at, updated_at
		 FROM chunks WHERE file_path = ? ORDER BY chunk_index ASC`,
		filePath)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeDatabase, "query rows: "+err.Error(), false)
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeDatabase, "scan row: "+err.Error(), false)
		}
		out = append(out, c)
	}
	return out, nil
}

// ListFiles groups chunk rows by filePath.
func (s *SQLiteStore) ListFiles(ctx context.Context, p ListFilesParams) ([]FileSummary, error) {
	// An absent limit defaults to 50; an explicit limit of 0 means unlimited.
	limit := 50
	if p.HasLimit {
		limit = p.Limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path, chunk_index, text, vector, timestamp,
		        file_name, file_size, file_type, language, memory_type, tags, project,
		        expires_at, created_at, updated_at
		 FROM chunks ORDER BY file_path, timestamp DESC`)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeDatabase, "query rows: "+err.Error(), false)
	}
	defer rows.Close()

	type agg struct {
		count    int
		lastTS   time.Time
		lastMeta model.Chunk
	}
	bySource := map[string]*agg{}
	var order []string

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeDatabase, "scan row: "+err.Error(), false)
		}
		a, ok := bySource[c.FilePath]
		if !ok {
			a = &agg{}
			bySource[c.FilePath] = a
			order = append(order, c.FilePath)
		}
		a.count++
		if c.Timestamp.After(a.lastTS) {
			a.lastTS = c.Timestamp
			a.lastMeta = c
		}
	}

	var out []FileSummary
	for _, fp := range order {
		a := bySource[fp]
		if !matchesFileFilter(fp, a.lastMeta.Metadata, p) {
			continue
		}
		out = append(out, FileSummary{
			FilePath:     fp,
			ChunkCount:   a.count,
			LastModified: a.lastTS.UTC().Format(time.RFC3339),
			Metadata:     a.lastMeta.Metadata,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LastModified > out[j].LastModified })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesFileFilter(filePath string, meta model.Metadata, p ListFilesParams) bool {
	switch p.Type {
	case "memory":
		if !model.IsMemoryPath(filePath) {
			return false
		}
	case "file":
		if model.IsMemoryPath(filePath) {
			return false
		}
	}
	for _, tag := range p.Tags {
		if !containsString(meta.Tags, tag) {
			return false
		}
	}
	if p.Project != "" && meta.Project != p.Project {
		return false
	}
	if p.Search != "" {
		needle := strings.ToLower(p.Search)
		if !strings.Contains(strings.ToLower(filePath), needle) && !strings.Contains(strings.ToLower(meta.FileName), needle) {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// CleanupExpired scans for rows whose expiresAt is non-null and in the
// past, groups them by filePath, and issues a delete per source.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_path FROM chunks WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, errs.Wrap(err, errs.CodeDatabase, "query expired sources: "+err.Error(), false)
	}
	var sources []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return 0, errs.Wrap(err, errs.CodeDatabase, "scan source: "+err.Error(), false)
		}
		sources = append(sources, fp)
	}
	rows.Close()

	for _, fp := range sources {
		if err := s.Delete(ctx, fp); err != nil {
			return 0, err
		}
	}
	return len(sources), nil
}

// GetStatus reports aggregate store health and configuration.
func (s *SQLiteStore) GetStatus(ctx context.Context) (Status, error) {
	var st Status
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT file_path), COUNT(*) FROM chunks`).Scan(&st.SourceCount, &st.ChunkCount); err != nil {
		return st, errs.Wrap(err, errs.CodeDatabase, "query counts: "+err.Error(), false)
	}

	st.UptimeSeconds = int64(time.Since(s.started).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	st.ApproxMemBytes = mem.Sys

	s.mu.RLock()
	st.FTSAvailable = s.ftsAvailable
	s.mu.RUnlock()
	st.Hybrid = st.FTSAvailable

	return st, nil
}

// SetHybridWeight sets the store-wide default hybrid fusion weight, used by
// Search when a call's SearchParams.HybridWeight is unset (zero).
func (s *SQLiteStore) SetHybridWeight(weight float64) {
	if weight == 0 {
		weight = DefaultHybridWeight
	}
	s.mu.Lock()
	s.hybridWeight = weight
	s.mu.Unlock()
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row scanner) (model.Chunk, error) {
	var c model.Chunk
	var vecBlob []byte
	var ts, createdAt, updatedAt string
	var fileName, fileType, language, memoryType, tagsJSON, project, expiresAt sql.NullString
	var fileSize sql.NullInt64

	err := row.Scan(&c.ID, &c.FilePath, &c.ChunkIndex, &c.Text, &vecBlob, &ts,
		&fileName, &fileSize, &fileType, &language, &memoryType, &tagsJSON, &project,
		&expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}

	c.Timestamp, _ = time.Parse(time.RFC3339, ts)
	c.Vector = decodeVector(vecBlob)
	c.Metadata = model.Metadata{
		FileName:   fileName.String,
		FileSize:   fileSize.Int64,
		FileType:   fileType.String,
		Language:   language.String,
		MemoryType: memoryType.String,
		Project:    project.String,
		Tags:       []string{},
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		json.Unmarshal([]byte(tagsJSON.String), &c.Metadata.Tags)
	}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err == nil {
			c.Metadata.ExpiresAt = &t
		}
	}
	c.Metadata.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.Metadata.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return c, nil
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	var v []float32
	json.Unmarshal(b, &v)
	return v
}
