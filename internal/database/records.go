package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"agrireg/internal/filter"
	"agrireg/internal/model"
	"agrireg/internal/querysql"
)

// Columns every collection table carries besides its domain columns.
const (
	colID        = "id"
	colUUID      = "uuid"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
	colDeletedAt = "deleted_at"
	colDeletedBy = "deleted_by"
)

// Find returns the records of collection matching where, in creation order.
// A limit <= 0 returns every match.
func (s *Store) Find(ctx context.Context, collection string, where filter.Predicate, offset, limit int) ([]model.Record, error) {
	table, err := querysql.Ident(collection)
	if err != nil {
		return nil, err
	}

	b := querysql.NewBuilder(s.dialect)
	cond, err := b.Where(where)
	if err != nil {
		return nil, fmt.Errorf("rendering predicate: %w", err)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY id", table, cond)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %s OFFSET %s", b.Arg(limit), b.Arg(offset))
	}

	rows, err := s.db.QueryContext(ctx, query, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", collection, err)
	}
	return records, nil
}

// Count returns how many records of collection match where.
func (s *Store) Count(ctx context.Context, collection string, where filter.Predicate) (int64, error) {
	table, err := querysql.Ident(collection)
	if err != nil {
		return 0, err
	}

	cond, args, err := querysql.Compile(s.dialect, where)
	if err != nil {
		return 0, fmt.Errorf("rendering predicate: %w", err)
	}

	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, cond)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return n, nil
}

// FindByUUID returns one record whether or not it is soft-deleted.
func (s *Store) FindByUUID(ctx context.Context, collection, uuid string) (*model.Record, error) {
	records, err := s.Find(ctx, collection, filter.Equals{Column: colUUID, Value: uuid}, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.NotFound(collection, uuid)
	}
	return &records[0], nil
}

// FetchByUUIDs returns the records among uuids that also match where.
func (s *Store) FetchByUUIDs(ctx context.Context, collection string, uuids []string, where filter.Predicate) ([]model.Record, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	return s.Find(ctx, collection, filter.All(filter.In{Column: colUUID, Values: uuids}, where), 0, 0)
}

// MatchUUIDs returns the uuids of the records of collection matching where.
func (s *Store) MatchUUIDs(ctx context.Context, collection string, where filter.Predicate) ([]string, error) {
	table, err := querysql.Ident(collection)
	if err != nil {
		return nil, err
	}

	cond, args, err := querysql.Compile(s.dialect, where)
	if err != nil {
		return nil, fmt.Errorf("rendering predicate: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT uuid FROM %s WHERE %s ORDER BY id", table, cond), args...)
	if err != nil {
		return nil, fmt.Errorf("matching %s: %w", collection, err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning uuid: %w", err)
		}
		uuids = append(uuids, u)
	}
	return uuids, rows.Err()
}

// Insert writes a new record and sets its ID. A unique violation on a code
// column is reported as ErrDuplicateSequenceCode.
func (s *Store) Insert(ctx context.Context, collection string, rec *model.Record) error {
	table, err := querysql.Ident(collection)
	if err != nil {
		return err
	}

	b := querysql.NewBuilder(s.dialect)
	cols := []string{colUUID, colCreatedAt, colUpdatedAt}
	vals := []string{b.Arg(rec.UUID), b.Arg(rec.CreatedAt.UTC()), b.Arg(rec.UpdatedAt.UTC())}
	for _, name := range sortedKeys(rec.Fields) {
		col, err := querysql.Ident(name)
		if err != nil {
			return err
		}
		cols = append(cols, col)
		vals = append(vals, b.Arg(rec.Fields[name]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if err := s.db.QueryRowContext(ctx, query, b.Args()...).Scan(&rec.ID); err != nil {
		if isCodeViolation(err) {
			return fmt.Errorf("inserting into %s: %w", collection, model.ErrDuplicateSequenceCode)
		}
		return fmt.Errorf("inserting into %s: %w", collection, err)
	}
	return nil
}

// Update overwrites the given columns of an alive record.
func (s *Store) Update(ctx context.Context, collection, uuid string, fields map[string]any, at time.Time) error {
	table, err := querysql.Ident(collection)
	if err != nil {
		return err
	}

	b := querysql.NewBuilder(s.dialect)
	sets := []string{colUpdatedAt + " = " + b.Arg(at.UTC())}
	for _, name := range sortedKeys(fields) {
		col, err := querysql.Ident(name)
		if err != nil {
			return err
		}
		sets = append(sets, col+" = "+b.Arg(fields[name]))
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE uuid = %s AND deleted_at IS NULL",
		table, strings.Join(sets, ", "), b.Arg(uuid))
	return s.execOne(ctx, collection, uuid, query, b.Args())
}

// SoftDelete marks an alive record deleted by actor at the given time.
func (s *Store) SoftDelete(ctx context.Context, collection, uuid string, at time.Time, actor model.ActorSnapshot) error {
	table, err := querysql.Ident(collection)
	if err != nil {
		return err
	}

	by, err := json.Marshal(actor)
	if err != nil {
		return fmt.Errorf("encoding actor: %w", err)
	}

	b := querysql.NewBuilder(s.dialect)
	query := fmt.Sprintf("UPDATE %s SET deleted_at = %s, deleted_by = %s, updated_at = %s WHERE uuid = %s AND deleted_at IS NULL",
		table, b.Arg(at.UTC()), b.Arg(string(by)), b.Arg(at.UTC()), b.Arg(uuid))
	return s.execOne(ctx, collection, uuid, query, b.Args())
}

func (s *Store) execOne(ctx context.Context, collection, uuid, query string, args []any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isCodeViolation(err) {
			return fmt.Errorf("updating %s: %w", collection, model.ErrDuplicateSequenceCode)
		}
		return fmt.Errorf("updating %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating %s: %w", collection, err)
	}
	if n == 0 {
		return model.NotFound(collection, uuid)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []model.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := model.Record{Fields: make(map[string]any, len(cols))}
		for i, col := range cols {
			if err := assign(&rec, col, normalize(vals[i])); err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func assign(rec *model.Record, col string, v any) error {
	switch col {
	case colID:
		id, ok := v.(int64)
		if !ok {
			return fmt.Errorf("unexpected id type %T", v)
		}
		rec.ID = id
	case colUUID:
		rec.UUID, _ = v.(string)
	case colCreatedAt:
		t, err := toTime(v)
		if err != nil {
			return err
		}
		rec.CreatedAt = t
	case colUpdatedAt:
		t, err := toTime(v)
		if err != nil {
			return err
		}
		rec.UpdatedAt = t
	case colDeletedAt:
		if v == nil {
			return nil
		}
		t, err := toTime(v)
		if err != nil {
			return err
		}
		rec.DeletedAt = &t
	case colDeletedBy:
		s, ok := v.(string)
		if !ok || s == "" {
			return nil
		}
		var by model.ActorSnapshot
		if err := json.Unmarshal([]byte(s), &by); err != nil {
			return err
		}
		rec.DeletedBy = &by
	default:
		rec.Fields[col] = v
	}
	return nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range sqlite3.SQLiteTimestampFormats {
			if parsed, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", t)
	}
	return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
}

// isCodeViolation reports whether err is a unique violation on a generated
// code column. Code columns end in "_code" and their unique indexes are named
// <table>_<column>; other unique violations, such as a repeated uuid, are not
// code collisions.
func isCodeViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
			return false
		}
		// "UNIQUE constraint failed: companies.company_code"
		_, cols, _ := strings.Cut(sqliteErr.Error(), ": ")
		for _, col := range strings.Split(cols, ", ") {
			if strings.HasSuffix(col, codeSuffix) {
				return true
			}
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation && strings.HasSuffix(pgErr.ConstraintName, codeSuffix)
	}
	return false
}

const codeSuffix = "_code"

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
