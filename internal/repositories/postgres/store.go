// Package postgres implements the order store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const defaultMigrationsTable = "orderline_schema_migrations"

// Config holds connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsTable string
}

// Store persists carts, products, coupons and orders in PostgreSQL.
type Store struct {
	db              *sql.DB
	now             func() time.Time
	migrationsTable string
}

var _ repositories.Store = (*Store)(nil)

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres store: dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	return NewStore(db, cfg.MigrationsTable), nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB, migrationsTable string) *Store {
	if strings.TrimSpace(migrationsTable) == "" {
		migrationsTable = defaultMigrationsTable
	}
	return &Store{db: db, now: time.Now, migrationsTable: migrationsTable}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("postgres store: migration source: %w", err)
	}
	dbDriver, err := migratepg.WithInstance(s.db, &migratepg.Config{MigrationsTable: s.migrationsTable})
	if err != nil {
		return fmt.Errorf("postgres store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("postgres store: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres store: migrate up: %w", err)
	}
	return nil
}

// RunInTx runs fn inside a read-committed transaction. Rows read through the
// Tx are locked with FOR UPDATE until commit or rollback.
func (s *Store) RunInTx(ctx context.Context, fn repositories.TxFunc) (err error) {
	if fn == nil {
		return errors.New("postgres store: transaction function is required")
	}
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError("postgres.begin", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &tx{tx: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return mapError("postgres.commit", err)
	}
	return nil
}

func (s *Store) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := scanCart(s.db.QueryRowContext(ctx, selectCart+` WHERE user_id = $1`, userID))
	if repositories.IsNotFound(err) {
		return domain.Cart{UserID: userID}, nil
	}
	return cart, err
}

func (s *Store) FindOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, orderID))
}

func (s *Store) FindOrderByTrackingID(ctx context.Context, trackingID string) (domain.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, selectOrder+` WHERE tracking_id = $1`, trackingID))
}

func (s *Store) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, hasCursor, err := repositories.DecodeOrderCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	var (
		clauses []string
		args    []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(filter.UserID))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		clauses = append(clauses, "order_status = ANY("+arg(pq.Array(statuses))+")")
	}
	if from := filter.DateRange.From; from != nil {
		clauses = append(clauses, "created_at >= "+arg(from.UTC()))
	}
	if to := filter.DateRange.To; to != nil {
		clauses = append(clauses, "created_at <= "+arg(to.UTC()))
	}
	if hasCursor {
		clauses = append(clauses, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	size := repositories.PageSize(filter.Pagination.PageSize)
	query := selectOrder
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(size+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapError("postgres.listOrders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, size+1)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, mapError("postgres.listOrders", err)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > size {
		page.Items = orders[:size]
		token, err := repositories.EncodeOrderCursor(page.Items[size-1])
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (s *Store) ListUserCoupons(ctx context.Context, userID string) ([]domain.UserCouponView, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userCouponColumns("uc")+`, `+couponColumns("c")+`
		FROM user_coupons uc JOIN coupons c ON c.id = uc.coupon_id
		WHERE uc.user_id = $1 ORDER BY uc.assigned_at DESC`, userID)
	if err != nil {
		return nil, mapError("postgres.listUserCoupons", err)
	}
	defer rows.Close()

	views := make([]domain.UserCouponView, 0)
	for rows.Next() {
		var (
			row    userCouponRow
			coupon couponRow
		)
		if err := rows.Scan(append(row.dest(), coupon.dest()...)...); err != nil {
			return nil, mapError("postgres.listUserCoupons", err)
		}
		views = append(views, domain.UserCouponView{UserCoupon: row.domain(), Coupon: coupon.domain()})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("postgres.listUserCoupons", err)
	}
	return views, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// DB exposes the pool for seeding in tests and tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NotFound(op, "record not found")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return repositories.Conflict(op, pqErr.Detail, err)
		case pqErr.Code == "23514", pqErr.Code == "23503":
			return repositories.Conflict(op, pqErr.Message, err)
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return repositories.Unavailable(op, err)
		}
		return repositories.NewStoreError(op, repositories.ErrorUnknown, "", err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return repositories.Unavailable(op, err)
	}
	return repositories.NewStoreError(op, repositories.ErrorUnknown, "", err)
}
