package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quotaledger/internal/model"
)

// AccountRepository reads and creates ledger accounts.
type AccountRepository interface {
	// CreateAccount inserts u unless an account with the same id exists. Reports whether a row was written.
	CreateAccount(ctx context.Context, u *model.UserAccount) (bool, error)
	// GetAccount returns nil, nil when the account does not exist.
	GetAccount(ctx context.Context, id string) (*model.UserAccount, error)
	GetAccountByCustomerID(ctx context.Context, customerID string) (*model.UserAccount, error)
	ListAccounts(ctx context.Context) ([]model.UserAccount, error)
}

const accountColumns = `id, email, full_name, role, plan, messages_sent, documents_uploaded,
	message_limit, document_limit, stripe_customer_id, stripe_subscription_id,
	subscription_status, subscription_period_end, schema_version,
	last_active_at, created_at, plan_changed_at`

type accountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) CreateAccount(ctx context.Context, u *model.UserAccount) (bool, error) {
	const q = `
		INSERT INTO accounts (id, email, full_name, role, plan, messages_sent, documents_uploaded,
			message_limit, document_limit, schema_version, last_active_at, created_at, plan_changed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7, $8, $9, $9, $9, $9)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, q,
		u.ID, u.Email, u.FullName, string(u.Role), string(u.Plan),
		u.Limits.MessageLimit, u.Limits.DocumentLimit, u.SchemaVersion, u.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert account %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for account %s: %w", u.ID, err)
	}
	return n == 1, nil
}

func (r *accountRepo) GetAccount(ctx context.Context, id string) (*model.UserAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	u, err := scanAccount(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch account %s: %w", id, err)
	}
	return u, nil
}

func (r *accountRepo) GetAccountByCustomerID(ctx context.Context, customerID string) (*model.UserAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE stripe_customer_id = $1`
	u, err := scanAccount(r.db.QueryRowContext(ctx, q, customerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch account by customer %s: %w", customerID, err)
	}
	return u, nil
}

func (r *accountRepo) ListAccounts(ctx context.Context) ([]model.UserAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []model.UserAccount
	for rows.Next() {
		u, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.UserAccount, error) {
	var (
		u          model.UserAccount
		role, plan string
		customerID sql.NullString
		subID      sql.NullString
		subStatus  sql.NullString
		periodEnd  sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &role, &plan, &u.MessagesSent, &u.DocumentsUploaded,
		&u.Limits.MessageLimit, &u.Limits.DocumentLimit, &customerID, &subID,
		&subStatus, &periodEnd, &u.SchemaVersion,
		&u.LastActiveAt, &u.CreatedAt, &u.PlanChangedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.Plan = model.Plan(plan)
	if customerID.Valid || subID.Valid || subStatus.Valid {
		u.Subscription = &model.Subscription{
			ExternalCustomerID:     customerID.String,
			ExternalSubscriptionID: subID.String,
			Status:                 model.SubscriptionStatus(subStatus.String),
		}
		if periodEnd.Valid {
			t := periodEnd.Time
			u.Subscription.CurrentPeriodEnd = &t
		}
	}
	return &u, nil
}
