package core

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// pgxPool is the subset of *pgxpool.Pool used by repositories; pgxmock satisfies it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByUserID(ctx context.Context, userID string) (*Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, a *Account) error
	Save(ctx context.Context, a *Account) error
	Delete(ctx context.Context, a *Account) error
	HasAdmin(ctx context.Context) (bool, error)
	List(ctx context.Context, page, perPage int) ([]Account, int, error)
}

// PgAccountRepository implements AccountRepository using pgx.
type PgAccountRepository struct {
	db pgxPool
}

func NewPgAccountRepository(db pgxPool) *PgAccountRepository {
	return &PgAccountRepository{db: db}
}

const accountColumns = `id, username, role, user_id, disabled, password_hash, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var role string
	if err := row.Scan(&a.ID, &a.Username, &role, &a.UserID, &a.Disabled, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Role = Role(role)
	return &a, nil
}

func (r *PgAccountRepository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE username=$1`
	a, err := scanAccount(r.db.QueryRow(ctx, q, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.With("operation", "find account by username").Wrap(err)
	}
	return a, nil
}

func (r *PgAccountRepository) FindByUserID(ctx context.Context, userID string) (*Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id=$1`
	a, err := scanAccount(r.db.QueryRow(ctx, q, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.With("operation", "find account by user id").With("user_id", userID).Wrap(err)
	}
	return a, nil
}

func (r *PgAccountRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM accounts WHERE username=$1)`
	var exists bool
	if err := r.db.QueryRow(ctx, q, username).Scan(&exists); err != nil {
		return false, oops.With("operation", "check username").Wrap(err)
	}
	return exists, nil
}

// Create inserts a and fills ID and timestamps. The username unique constraint
// is the source of truth for uniqueness.
func (r *PgAccountRepository) Create(ctx context.Context, a *Account) error {
	const q = `INSERT INTO accounts (username, role, user_id, disabled, password_hash)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, a.Username, string(a.Role), a.UserID, a.Disabled, a.PasswordHash).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return oops.With("operation", "create account").With("username", a.Username).Wrap(err)
	}
	return nil
}

// Save updates the mutable columns of a. user_id is never written.
func (r *PgAccountRepository) Save(ctx context.Context, a *Account) error {
	const q = `UPDATE accounts SET username=$1, role=$2, disabled=$3, password_hash=$4, updated_at=now()
WHERE id=$5 RETURNING updated_at`
	err := r.db.QueryRow(ctx, q, a.Username, string(a.Role), a.Disabled, a.PasswordHash, a.ID).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return oops.With("operation", "save account").With("id", a.ID).Wrap(err)
	}
	return nil
}

func (r *PgAccountRepository) Delete(ctx context.Context, a *Account) error {
	const q = `DELETE FROM accounts WHERE id=$1`
	tag, err := r.db.Exec(ctx, q, a.ID)
	if err != nil {
		return oops.With("operation", "delete account").With("id", a.ID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgAccountRepository) HasAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM accounts WHERE role='admin' LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, oops.With("operation", "check admin").Wrap(err)
	}
	return true, nil
}

// List returns a page of accounts ordered by id and the total count.
func (r *PgAccountRepository) List(ctx context.Context, page, perPage int) ([]Account, int, error) {
	offset, err := pageOffset(page, perPage)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, oops.With("operation", "count accounts").Wrap(err)
	}
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id LIMIT $1 OFFSET $2`, perPage, offset)
	if err != nil {
		return nil, 0, oops.With("operation", "list accounts").Wrap(err)
	}
	defer rows.Close()
	items := make([]Account, 0, perPage)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, oops.With("operation", "scan account row").Wrap(err)
		}
		items = append(items, *a)
	}
	return items, total, rows.Err()
}

// pageOffset returns the row offset of a 1-based page, rejecting pages whose
// offset does not fit in an int.
func pageOffset(page, perPage int) (int, error) {
	if page <= 0 || perPage <= 0 {
		return 0, fmt.Errorf("%w: page and per_page must be positive", ErrInvalidInput)
	}
	if page-1 > math.MaxInt/perPage {
		return 0, fmt.Errorf("%w: page %d is out of range", ErrInvalidInput, page)
	}
	return (page - 1) * perPage, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
