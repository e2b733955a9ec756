// Package ch provides a clickhouse client for the usage ledger
package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Config configures the clickhouse connection
type Config struct {
	Addrs    []string
	Protocol clickhouse.Protocol
	TLS      *tls.Config
	Auth     clickhouse.Auth
	Dialer   func(ctx context.Context, addr string) (net.Conn, error)
	Settings clickhouse.Settings

	ClientInfo clickhouse.ClientInfo

	DialTimeout time.Duration
	ReadTimeout time.Duration
	Compression *clickhouse.Compression

	InsertChunk int
	MaxRetries  int
	RetryBase   time.Duration

	Tracer QueryTracer
}

// Rows is the minimal result set iteration for ch
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
	Columns() []string
}

// QueryEvent describes one executed statement for tracing
type QueryEvent struct {
	SQL       string
	Args      any
	ElapsedUS int64
	Err       error
}

// QueryTracer observes queries and inserts executed through CH
type QueryTracer interface {
	OnQuery(ctx context.Context, ev QueryEvent)
}

// CH is a clickhouse client wrapping the native driver
type CH struct {
	conn        clickhouse.Conn
	tracer      QueryTracer
	insertChunk int
	maxRetries  int
	retryBase   time.Duration
}

// Open dials clickhouse using the native protocol and returns a ready client
func Open(ctx context.Context, cfg Config) (*CH, error) {
	opts := &clickhouse.Options{
		Addr:        cfg.Addrs,
		Auth:        cfg.Auth,
		Protocol:    cfg.Protocol,
		Settings:    cfg.Settings,
		ClientInfo:  cfg.ClientInfo,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		Compression: cfg.Compression,
	}
	if cfg.TLS != nil {
		opts.TLS = cfg.TLS
	}
	if cfg.Dialer != nil {
		opts.DialContext = cfg.Dialer
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ch: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ch: ping: %w", err)
	}

	insertChunk := cfg.InsertChunk
	if insertChunk <= 0 {
		insertChunk = 1
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}

	return &CH{
		conn:        conn,
		tracer:      cfg.Tracer,
		insertChunk: insertChunk,
		maxRetries:  maxRetries,
		retryBase:   retryBase,
	}, nil
}

// Inserter is implemented by rows that know how to append themselves to a
// clickhouse batch. UsageLedger rows implement this to avoid reflection.
type Inserter interface {
	AppendTo(batch clickhouse.Batch) error
}

// Insert appends data to table via a single-row batch insert, making up to
// MaxRetries attempts in total; any error is retried, with linear backoff
func (c *CH) Insert(ctx context.Context, table string, data any) error {
	row, ok := data.(Inserter)
	if !ok {
		return fmt.Errorf("ch: insert: %T does not implement ch.Inserter", data)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+table)
		if err == nil {
			if err = row.AppendTo(batch); err == nil {
				err = batch.Send()
			}
		}
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if attempt < c.maxRetries-1 {
			time.Sleep(c.retryBase * time.Duration(attempt+1))
		}
	}

	if c.tracer != nil {
		c.tracer.OnQuery(ctx, QueryEvent{
			SQL:       "INSERT INTO " + table,
			ElapsedUS: time.Since(start).Microseconds(),
			Err:       lastErr,
		})
	}
	return lastErr
}

// Query runs a query and returns ch.Rows
func (c *CH) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	start := time.Now()
	rows, err := c.conn.Query(ctx, sql, args...)
	if c.tracer != nil {
		c.tracer.OnQuery(ctx, QueryEvent{SQL: sql, Args: args, ElapsedUS: time.Since(start).Microseconds(), Err: err})
	}
	if err != nil {
		return nil, err
	}
	return &driverRows{rows: rows}, nil
}

// Close closes the underlying connection
func (c *CH) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

type driverRows struct{ rows clickhouse.Rows }

func (r *driverRows) Next() bool             { return r.rows.Next() }
func (r *driverRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *driverRows) Err() error             { return r.rows.Err() }
func (r *driverRows) Close()                 { _ = r.rows.Close() }
func (r *driverRows) Columns() []string      { return r.rows.Columns() }
