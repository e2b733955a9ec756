// Package requestlog is the two-phase RequestLog: a Postgres row created
// before the upstream attempt and completed after the stream ends, plus a
// gzip archive of the raw inbound body on disk
package requestlog

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	perr "ollamaproxy/internal/platform/errors"
	"ollamaproxy/internal/platform/logger"
	"ollamaproxy/internal/modkit/repokit"
)

// Table is the postgres table backing the request log
const Table = "requests"

// Schema is the DDL expected to already exist before the log is used
const Schema = `
create table if not exists ` + Table + ` (
	id uuid primary key,
	client_addr text not null,
	method text not null,
	path text not null,
	key_index int,
	status int,
	model text not null default 'pending',
	prompt_eval_count bigint not null default 0,
	eval_count bigint not null default 0,
	archive_path text not null,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
)
`

// Entry is one archived request, pre- or post-dispatch
type Entry struct {
	ID              uuid.UUID
	ClientAddr      string
	Method          string
	Path            string
	KeyIndex        *int
	Status          *int
	Model           string
	PromptEvalCount int64
	EvalCount       int64
	ArchivePath     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Repo is the persistence surface the Log drives
type Repo interface {
	Create(ctx context.Context, e Entry) error
	Complete(ctx context.Context, id uuid.UUID, keyIndex, status int, model string, promptEvalCount, evalCount int64) error
	Get(ctx context.Context, id uuid.UUID) (Entry, error)
	List(ctx context.Context, limit, offset int) ([]Entry, error)
}

// PG is a repokit.Binder that binds Repo to a Queryer
type PG struct{}

// NewPG returns a binder that wires Repo to a Postgres Queryer
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) Repo { return &pgRepo{q: q} }

type pgRepo struct{ q repokit.Queryer }

func (r *pgRepo) Create(ctx context.Context, e Entry) error {
	const sql = `
insert into ` + Table + ` (id, client_addr, method, path, archive_path, model)
values ($1, $2, $3, $4, $5, 'pending')
`
	_, err := r.q.Exec(ctx, sql, e.ID, e.ClientAddr, e.Method, e.Path, e.ArchivePath)
	return err
}

func (r *pgRepo) Complete(ctx context.Context, id uuid.UUID, keyIndex, status int, model string, promptEvalCount, evalCount int64) error {
	const sql = `
update ` + Table + ` set key_index = $2, status = $3, model = $4,
	prompt_eval_count = $5, eval_count = $6, updated_at = now()
where id = $1
`
	_, err := r.q.Exec(ctx, sql, id, keyIndex, status, model, promptEvalCount, evalCount)
	return err
}

func (r *pgRepo) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	const sql = `
select id, client_addr, method, path, key_index, status, model,
	prompt_eval_count, eval_count, archive_path, created_at, updated_at
from ` + Table + ` where id = $1
`
	row := r.q.QueryRow(ctx, sql, id)
	var e Entry
	if err := row.Scan(&e.ID, &e.ClientAddr, &e.Method, &e.Path, &e.KeyIndex, &e.Status,
		&e.Model, &e.PromptEvalCount, &e.EvalCount, &e.ArchivePath, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *pgRepo) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	const sql = `
select id, client_addr, method, path, key_index, status, model,
	prompt_eval_count, eval_count, archive_path, created_at, updated_at
from ` + Table + ` order by created_at desc limit $1 offset $2
`
	rows, err := r.q.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ClientAddr, &e.Method, &e.Path, &e.KeyIndex, &e.Status,
			&e.Model, &e.PromptEvalCount, &e.EvalCount, &e.ArchivePath, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Log is the RequestLog: creates a pre-dispatch entry and body archive,
// completes it after the stream ends
type Log struct {
	repo    Repo
	baseDir string
	log     *logger.Logger
}

// New builds a Log. repo may be nil (Postgres disabled at boot); archival
// still happens to disk, Create and Complete then skip the database, Get
// returns an Unavailable error and List returns nothing.
func New(repo Repo, baseDir string) *Log {
	if baseDir == "" {
		baseDir = "data/requests"
	}
	return &Log{repo: repo, baseDir: baseDir, log: logger.Named("requestlog")}
}

// Create archives body to a gzip file under <baseDir>/<clientAddr>/<date>/<ts>_<uuid>.json.gz
// and inserts a pre-dispatch row. Returns the new entry id.
func (l *Log) Create(ctx context.Context, clientAddr, method, path string, body []byte) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()

	archivePath, err := l.archive(clientAddr, id, now, body)
	if err != nil {
		return uuid.Nil, perr.Internalf("requestlog: archive body: %v", err)
	}

	if l.repo != nil {
		e := Entry{ID: id, ClientAddr: clientAddr, Method: method, Path: path, ArchivePath: archivePath}
		if err := l.repo.Create(ctx, e); err != nil {
			l.log.Warn().Err(err).Str("id", id.String()).Msg("requestlog create failed")
		}
	}
	return id, nil
}

// Complete records the final key/status/usage for a previously created entry
func (l *Log) Complete(ctx context.Context, id uuid.UUID, keyIndex, status int, model string, promptEvalCount, evalCount int64) {
	if l == nil || l.repo == nil || id == uuid.Nil {
		return
	}
	if err := l.repo.Complete(ctx, id, keyIndex, status, model, promptEvalCount, evalCount); err != nil {
		l.log.Warn().Err(err).Str("id", id.String()).Msg("requestlog complete failed")
	}
}

// Get returns one archived entry by id
func (l *Log) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	if l == nil || l.repo == nil {
		return Entry{}, perr.Unavailablef("requestlog: backend disabled")
	}
	return l.repo.Get(ctx, id)
}

// List returns the most recent entries
func (l *Log) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if l == nil || l.repo == nil {
		return nil, nil
	}
	return l.repo.List(ctx, limit, offset)
}

// Body reads and ungzips the archived raw body for an entry
func (l *Log) Body(ctx context.Context, id uuid.UUID) ([]byte, error) {
	e, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(e.ArchivePath)
	if err != nil {
		return nil, perr.NotFoundf("requestlog: archive missing: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, perr.Internalf("requestlog: corrupt archive: %v", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (l *Log) archive(clientAddr string, id uuid.UUID, ts time.Time, body []byte) (string, error) {
	dir := filepath.Join(l.baseDir, sanitizeAddr(clientAddr), ts.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%d_%s.json.gz", ts.UnixNano(), id.String())
	path := filepath.Join(dir, name)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeAddr(addr string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	s := r.Replace(addr)
	if s == "" {
		return "unknown"
	}
	return s
}
