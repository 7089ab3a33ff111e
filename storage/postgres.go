package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"taskboard-api/domain"
)

// Schema creates the relational layout. Todos reference their board with
// ON DELETE CASCADE so no todo can outlive its board.
const Schema = `
CREATE TABLE IF NOT EXISTS boards (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	title       VARCHAR(100) NOT NULL,
	description VARCHAR(500) NOT NULL DEFAULT '',
	color       VARCHAR(7) NOT NULL DEFAULT '#3B82F6',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_boards_owner_created ON boards (owner_id, created_at DESC);

CREATE TABLE IF NOT EXISTS todos (
	id          TEXT PRIMARY KEY,
	board_id    TEXT NOT NULL REFERENCES boards (id) ON DELETE CASCADE,
	owner_id    TEXT NOT NULL,
	title       VARCHAR(200) NOT NULL,
	description VARCHAR(1000) NOT NULL DEFAULT '',
	status      VARCHAR(16) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in-progress', 'completed')),
	priority    VARCHAR(8) NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high')),
	due_date    TIMESTAMPTZ,
	"order"     INTEGER NOT NULL DEFAULT 0 CHECK ("order" >= 0),
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_todos_board_order ON todos (board_id, "order", created_at DESC);
CREATE INDEX IF NOT EXISTS idx_todos_owner_created ON todos (owner_id, created_at DESC);
`

const pqForeignKeyViolation = "23503"

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	boardColumns = []string{"id", "owner_id", "title", "description", "color", "created_at", "updated_at"}
	todoColumns  = []string{"id", "board_id", "owner_id", "title", "description", "status", "priority", "due_date", `"order"`, "created_at", "updated_at"}
)

type boardRow struct {
	ID          string    `db:"id"`
	OwnerID     string    `db:"owner_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Color       string    `db:"color"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r boardRow) toDomain() domain.Board {
	return domain.Board{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Color:       r.Color,
		OwnerID:     r.OwnerID,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type todoRow struct {
	ID          string     `db:"id"`
	BoardID     string     `db:"board_id"`
	OwnerID     string     `db:"owner_id"`
	Title       string     `db:"title"`
	Description string     `db:"description"`
	Status      string     `db:"status"`
	Priority    string     `db:"priority"`
	DueDate     *time.Time `db:"due_date"`
	Order       int        `db:"order"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func (r todoRow) toDomain() domain.Todo {
	t := domain.Todo{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Status:      domain.Status(r.Status),
		Priority:    domain.Priority(r.Priority),
		BoardID:     r.BoardID,
		OwnerID:     r.OwnerID,
		Order:       r.Order,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.DueDate != nil {
		due := r.DueDate.UTC()
		t.DueDate = &due
	}
	return t
}

// PostgresStore keeps boards and todos in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to the database at dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, rolling back on error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// lockBoard takes a row lock on the owner's board for the rest of tx.
func lockBoard(ctx context.Context, tx *sqlx.Tx, ownerID, boardID string) error {
	query, args, err := psql.Select("id").From("boards").
		Where(sq.Eq{"id": boardID, "owner_id": ownerID}).
		Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return err
	}
	var id string
	if err := tx.GetContext(ctx, &id, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBoardNotFound
		}
		return err
	}
	return nil
}

func (s *PostgresStore) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	query, args, err := psql.Select(boardColumns...).From("boards").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, err
	}
	var rows []boardRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	boards := make([]domain.Board, 0, len(rows))
	for _, r := range rows {
		boards = append(boards, r.toDomain())
	}
	return boards, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, ownerID, boardID string) (*domain.Board, error) {
	query, args, err := psql.Select(boardColumns...).From("boards").
		Where(sq.Eq{"id": boardID, "owner_id": ownerID}).ToSql()
	if err != nil {
		return nil, err
	}
	var row boardRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	b := row.toDomain()
	return &b, nil
}

func (s *PostgresStore) InsertBoard(ctx context.Context, b domain.Board) error {
	query, args, err := psql.Insert("boards").Columns(boardColumns...).
		Values(b.ID, b.OwnerID, b.Title, b.Description, b.Color, b.CreatedAt, b.UpdatedAt).ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, b domain.Board) error {
	query, args, err := psql.Update("boards").
		Set("title", b.Title).
		Set("description", b.Description).
		Set("color", b.Color).
		Set("updated_at", b.UpdatedAt).
		Where(sq.Eq{"id": b.ID, "owner_id": b.OwnerID}).ToSql()
	if err != nil {
		return err
	}
	return expectAffected(s.db.ExecContext(ctx, query, args...))(domain.ErrBoardNotFound)
}

// DeleteBoard locks the board, removes its todos and then the board itself
// in one transaction.
func (s *PostgresStore) DeleteBoard(ctx context.Context, ownerID, boardID string) (int, error) {
	removed := 0
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockBoard(ctx, tx, ownerID, boardID); err != nil {
			return err
		}
		query, args, err := psql.Delete("todos").Where(sq.Eq{"board_id": boardID}).ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)

		query, args, err = psql.Delete("boards").Where(sq.Eq{"id": boardID, "owner_id": ownerID}).ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *PostgresStore) ListTodos(ctx context.Context, ownerID, boardID string) ([]domain.Todo, error) {
	query, args, err := psql.Select(todoColumns...).From("todos").
		Where(sq.Eq{"board_id": boardID, "owner_id": ownerID}).
		OrderBy(`"order" ASC`, "created_at DESC").ToSql()
	if err != nil {
		return nil, err
	}
	var rows []todoRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	todos := make([]domain.Todo, 0, len(rows))
	for _, r := range rows {
		todos = append(todos, r.toDomain())
	}
	return todos, nil
}

func (s *PostgresStore) GetTodo(ctx context.Context, ownerID, todoID string) (*domain.Todo, error) {
	query, args, err := psql.Select(todoColumns...).From("todos").
		Where(sq.Eq{"id": todoID, "owner_id": ownerID}).ToSql()
	if err != nil {
		return nil, err
	}
	var row todoRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t := row.toDomain()
	return &t, nil
}

// CreateTodo locks the board row so concurrent inserts on the same board are
// serialised and each sees the previous max order.
func (s *PostgresStore) CreateTodo(ctx context.Context, t domain.Todo) (domain.Todo, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockBoard(ctx, tx, t.OwnerID, t.BoardID); err != nil {
			return err
		}
		query, args, err := psql.Select(`COALESCE(MAX("order"), -1) + 1`).From("todos").
			Where(sq.Eq{"board_id": t.BoardID}).ToSql()
		if err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &t.Order, query, args...); err != nil {
			return err
		}
		query, args, err = psql.Insert("todos").Columns(todoColumns...).
			Values(t.ID, t.BoardID, t.OwnerID, t.Title, t.Description, string(t.Status), string(t.Priority),
				t.DueDate, t.Order, t.CreatedAt, t.UpdatedAt).ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqForeignKeyViolation {
			return domain.Todo{}, domain.ErrBoardNotFound
		}
		return domain.Todo{}, err
	}
	return t, nil
}

func (s *PostgresStore) UpdateTodo(ctx context.Context, t domain.Todo) error {
	query, args, err := psql.Update("todos").
		Set("title", t.Title).
		Set("description", t.Description).
		Set("status", string(t.Status)).
		Set("priority", string(t.Priority)).
		Set("due_date", t.DueDate).
		Set(`"order"`, t.Order).
		Set("updated_at", t.UpdatedAt).
		Where(sq.Eq{"id": t.ID, "owner_id": t.OwnerID}).ToSql()
	if err != nil {
		return err
	}
	return expectAffected(s.db.ExecContext(ctx, query, args...))(domain.ErrTodoNotFound)
}

func (s *PostgresStore) DeleteTodo(ctx context.Context, ownerID, boardID, todoID string) error {
	query, args, err := psql.Delete("todos").
		Where(sq.Eq{"id": todoID, "owner_id": ownerID, "board_id": boardID}).ToSql()
	if err != nil {
		return err
	}
	return expectAffected(s.db.ExecContext(ctx, query, args...))(domain.ErrTodoNotFound)
}

// expectAffected turns a zero-row write into notFound.
func expectAffected(res sql.Result, err error) func(notFound error) error {
	return func(notFound error) error {
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound
		}
		return nil
	}
}
