package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"agrireg/internal/querysql"
)

// Increment advances the named sequence counter in a single upsert and
// returns the new value. A missing counter starts at 1.
func (s *Store) Increment(ctx context.Context, name string) (int64, error) {
	b := querysql.NewBuilder(s.dialect)
	query := fmt.Sprintf(`INSERT INTO sequence_counters (name, value) VALUES (%s, 1)
		ON CONFLICT (name) DO UPDATE SET value = sequence_counters.value + 1
		RETURNING value`, b.Arg(name))

	var value int64
	if err := s.db.QueryRowContext(ctx, query, b.Args()...).Scan(&value); err != nil {
		return 0, fmt.Errorf("incrementing sequence %q: %w", name, err)
	}
	return value, nil
}

// Counters exposes sequence_counters through conditional writes, for use
// with an optimistic retry loop.
func (s *Store) Counters() *Counters {
	return &Counters{s: s}
}

type Counters struct {
	s *Store
}

func (c *Counters) Load(ctx context.Context, name string) (int64, bool, error) {
	b := querysql.NewBuilder(c.s.dialect)
	var value int64
	err := c.s.db.QueryRowContext(ctx, "SELECT value FROM sequence_counters WHERE name = "+b.Arg(name), b.Args()...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("loading sequence %q: %w", name, err)
	}
	return value, true, nil
}

func (c *Counters) Insert(ctx context.Context, name string, value int64) (bool, error) {
	b := querysql.NewBuilder(c.s.dialect)
	query := fmt.Sprintf("INSERT INTO sequence_counters (name, value) VALUES (%s, %s) ON CONFLICT (name) DO NOTHING", b.Arg(name), b.Arg(value))
	return c.exec(ctx, name, query, b.Args())
}

func (c *Counters) CompareAndSwap(ctx context.Context, name string, prev, next int64) (bool, error) {
	b := querysql.NewBuilder(c.s.dialect)
	query := fmt.Sprintf("UPDATE sequence_counters SET value = %s WHERE name = %s AND value = %s", b.Arg(next), b.Arg(name), b.Arg(prev))
	return c.exec(ctx, name, query, b.Args())
}

func (c *Counters) exec(ctx context.Context, name, query string, args []any) (bool, error) {
	res, err := c.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("writing sequence %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("writing sequence %q: %w", name, err)
	}
	return n == 1, nil
}
