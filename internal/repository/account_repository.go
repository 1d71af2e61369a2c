package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetActive(ctx context.Context, id int64) (*models.Account, error)
	List(ctx context.Context, active *bool) ([]*models.Account, error)
	SetActive(ctx context.Context, id int64, active bool) error
	GetTimezone(ctx context.Context, id int64) (string, error)
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, handle, ig_user_id, COALESCE(access_token, ''), timezone, active, created_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Handle, &a.IGUserID, &a.AccessToken, &a.Timezone, &a.Active, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return account, nil
}

// GetActive returns nil for a missing or paused account; posts for such
// accounts are never publishable.
func (r *accountRepository) GetActive(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND active = true`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) List(ctx context.Context, active *bool) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if active != nil {
		query += ` WHERE active = $1`
		args = append(args, *active)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *accountRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE accounts SET active = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, active, id); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *accountRepository) GetTimezone(ctx context.Context, id int64) (string, error) {
	query := `SELECT timezone FROM accounts WHERE id = $1`
	var tz string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&tz)
	if err != nil {
		if err == sql.ErrNoRows {
			return "UTC", nil
		}
		slog.Info(err.Error())
		return "", err
	}
	return tz, nil
}
