package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/syvkst/curia/pkg/types"
)

// pqUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pqUniqueViolation = "23505"

const listingsTable = "curia.listings"

//go:embed migrations/postgres/*.sql
var migrationFiles embed.FS

var listingColumns = []string{
	"id",
	"revision",
	"creation_date",
	"date",
	"break_time",
	"court",
	"office",
	"department",
	"room",
	"notes",
	"note_publicity",
	"cases",
}

// MigrationResult reports the schema version after Migrate.
type MigrationResult struct {
	Version uint
	Dirty   bool
}

// OpenPostgres opens a connection pool and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) (MigrationResult, error) {
	src, err := iofs.New(migrationFiles, "migrations/postgres")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return MigrationResult{}, fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{}, fmt.Errorf("applying migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return MigrationResult{}, fmt.Errorf("reading migration version: %w", err)
	}
	return MigrationResult{Version: version, Dirty: dirty}, nil
}

// PostgresStore implements Backend using PostgreSQL. Cases are stored as a
// JSONB document alongside the listing columns.
type PostgresStore struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewPostgresStore creates a new store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Read returns a single listing by ID.
func (s *PostgresStore) Read(ctx context.Context, id string) (types.Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Listing{}, ErrNotFound
	}

	query := s.sb.
		Select(listingColumns...).
		From(listingsTable).
		Where(sq.Eq{"id": id})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return types.Listing{}, fmt.Errorf("building listing get query: %w", err)
	}

	listing, err := scanListing(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Listing{}, ErrNotFound
		}
		return types.Listing{}, fmt.Errorf("querying listing %q: %w", id, err)
	}
	return listing, nil
}

// Write creates or replaces a listing in one transaction.
func (s *PostgresStore) Write(ctx context.Context, listing types.Listing) (types.Listing, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Listing{}, fmt.Errorf("starting listing transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var written types.Listing
	if strings.TrimSpace(listing.ID) == "" {
		written, err = s.insertListingTx(ctx, tx, listing)
	} else {
		written, err = s.replaceListingTx(ctx, tx, listing)
	}
	if err != nil {
		return types.Listing{}, err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return types.Listing{}, fmt.Errorf("committing listing transaction: %w", commitErr)
	}
	return written, nil
}

// List returns listing summaries ordered by date, newest first.
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]types.ListingSummary, int, error) {
	countQuery := applyListFilters(s.sb.Select("COUNT(*)").From(listingsTable), opts)

	countSQL, countArgs, err := countQuery.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building count query: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("executing count query: %w", err)
	}
	if total == 0 {
		return []types.ListingSummary{}, 0, nil
	}

	dataQuery := applyListFilters(s.sb.
		Select(
			"id",
			"revision",
			"creation_date",
			"date",
			"court",
			"office",
			"department",
			"room",
			"jsonb_array_length(cases)",
		).
		From(listingsTable), opts).
		OrderBy("date DESC", "id").
		Limit(uint64(normalizePageLimit(opts.Limit))).
		Offset(uint64(max(opts.Offset, 0)))

	dataSQL, dataArgs, err := dataQuery.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building data query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("executing data query: %w", err)
	}
	defer rows.Close()

	items := make([]types.ListingSummary, 0)
	for rows.Next() {
		var item types.ListingSummary
		if err := rows.Scan(
			&item.ID,
			&item.Revision,
			&item.CreationDate,
			&item.Date,
			&item.Court,
			&item.Office,
			&item.Department,
			&item.Room,
			&item.CaseCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning listing summary row: %w", err)
		}
		item.CreationDate = item.CreationDate.UTC()
		item.Date = item.Date.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating listing summary rows: %w", err)
	}

	return items, total, nil
}

// Delete removes a listing by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query := s.sb.
		Delete(listingsTable).
		Where(sq.Eq{"id": strings.TrimSpace(id)})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("deleting listing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) insertListingTx(ctx context.Context, tx *sql.Tx, listing types.Listing) (types.Listing, error) {
	now := s.now()
	written, err := stamp(listing, nil, now)
	if err != nil {
		return types.Listing{}, err
	}

	values, err := listingValues(written)
	if err != nil {
		return types.Listing{}, err
	}

	query := s.sb.
		Insert(listingsTable).
		Columns(append(slices.Clone(listingColumns), "updated_at")...).
		Values(append(values, now)...)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return types.Listing{}, fmt.Errorf("building listing insert query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		if isPQUniqueViolation(err) {
			return types.Listing{}, ErrConflict
		}
		return types.Listing{}, fmt.Errorf("inserting listing: %w", err)
	}
	return written, nil
}

func (s *PostgresStore) replaceListingTx(ctx context.Context, tx *sql.Tx, listing types.Listing) (types.Listing, error) {
	id := strings.TrimSpace(listing.ID)
	lockQuery := s.sb.
		Select("revision", "creation_date").
		From(listingsTable).
		Where(sq.Eq{"id": id}).
		Suffix("FOR UPDATE")

	lockSQL, lockArgs, err := lockQuery.ToSql()
	if err != nil {
		return types.Listing{}, fmt.Errorf("building listing lock query: %w", err)
	}

	var prev types.Listing
	if err := tx.QueryRowContext(ctx, lockSQL, lockArgs...).Scan(&prev.Revision, &prev.CreationDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Listing{}, ErrNotFound
		}
		return types.Listing{}, fmt.Errorf("locking listing %q: %w", id, err)
	}
	prev.CreationDate = prev.CreationDate.UTC()

	listing.ID = id
	written, err := stamp(listing, &prev, s.now())
	if err != nil {
		return types.Listing{}, err
	}

	casesJSON, err := json.Marshal(written.Cases)
	if err != nil {
		return types.Listing{}, fmt.Errorf("encoding cases of listing %q: %w", id, err)
	}

	query := s.sb.
		Update(listingsTable).
		Set("revision", written.Revision).
		Set("date", written.Date.UTC()).
		Set("break_time", breakValue(written.Break)).
		Set("court", string(written.Court)).
		Set("office", string(written.Office)).
		Set("department", string(written.Department)).
		Set("room", string(written.Room)).
		Set("notes", written.Notes).
		Set("note_publicity", written.NotePublicity).
		Set("cases", string(casesJSON)).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return types.Listing{}, fmt.Errorf("building listing update query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return types.Listing{}, fmt.Errorf("updating listing %q: %w", id, err)
	}
	return written, nil
}

func listingValues(l types.Listing) ([]any, error) {
	casesJSON, err := json.Marshal(l.Cases)
	if err != nil {
		return nil, fmt.Errorf("encoding cases of listing %q: %w", l.ID, err)
	}
	return []any{
		l.ID,
		l.Revision,
		l.CreationDate.UTC(),
		l.Date.UTC(),
		breakValue(l.Break),
		string(l.Court),
		string(l.Office),
		string(l.Department),
		string(l.Room),
		l.Notes,
		l.NotePublicity,
		string(casesJSON),
	}, nil
}

func applyListFilters(query sq.SelectBuilder, opts ListOptions) sq.SelectBuilder {
	if opts.Court.IsSet() {
		query = query.Where(sq.Eq{"court": string(opts.Court)})
	}
	if !opts.From.IsZero() {
		query = query.Where(sq.GtOrEq{"date": opts.From.UTC()})
	}
	if !opts.To.IsZero() {
		query = query.Where(sq.LtOrEq{"date": opts.To.UTC()})
	}
	return query
}

func scanListing(scanner interface {
	Scan(dest ...any) error
}) (types.Listing, error) {
	var (
		out       types.Listing
		breakTime sql.NullString
		casesJSON []byte
	)

	err := scanner.Scan(
		&out.ID,
		&out.Revision,
		&out.CreationDate,
		&out.Date,
		&breakTime,
		&out.Court,
		&out.Office,
		&out.Department,
		&out.Room,
		&out.Notes,
		&out.NotePublicity,
		&casesJSON,
	)
	if err != nil {
		return types.Listing{}, err
	}

	out.CreationDate = out.CreationDate.UTC()
	out.Date = out.Date.UTC()
	if breakTime.Valid {
		b := types.ClockTime(breakTime.String)
		out.Break = &b
	}
	out.Cases = []types.Case{}
	if len(casesJSON) > 0 {
		if err := json.Unmarshal(casesJSON, &out.Cases); err != nil {
			return types.Listing{}, fmt.Errorf("decoding cases of listing %q: %w", out.ID, err)
		}
	}
	return out, nil
}

func breakValue(b *types.ClockTime) any {
	if b == nil {
		return nil
	}
	return string(*b)
}

// isPQUniqueViolation checks whether the error is a PostgreSQL unique
// constraint violation (error code 23505).
func isPQUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
