package storage

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/models"
	"github.com/payment-ledger/internal/types"
)

const accountColumns = `id, wallet_address, email, user_id, credits,
	total_credits_earned, total_credits_spent, nft_holder, owned_collections,
	entitlement_checked_at, created_at, updated_at`

// AccountRepository persists accounts and their append-only payment history.
// It implements the ledger's Store contract: credits are guarded by a unique
// key on (account_id, natural_key), debits by a conditional decrement, and
// every balance mutation lands in the same transaction as its history record.
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

// EnsureAccount returns the account for the key, creating it on first use
func (r *AccountRepository) EnsureAccount(ctx context.Context, key types.AccountKey) (*models.Account, error) {
	account, err := r.GetAccount(ctx, key)
	if err == nil {
		return account, nil
	}
	if !errors.IsCode(err, errors.CodeAccountNotFound) {
		return nil, err
	}

	column, value, err := keyColumn(key)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	query := `
		INSERT INTO accounts (id, ` + column + `, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (` + column + `) DO NOTHING
	`
	if _, err := r.db.Pool().Exec(ctx, query, uuid.New().String(), value, now); err != nil {
		return nil, errors.NewDatabaseError("create account", err)
	}

	// Re-read: either our insert or a concurrent one won.
	return r.GetAccount(ctx, key)
}

// GetAccount retrieves the account for the key
func (r *AccountRepository) GetAccount(ctx context.Context, key types.AccountKey) (*models.Account, error) {
	column, value, err := keyColumn(key)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1`

	account, err := scanAccount(r.db.Pool().QueryRow(ctx, query, value))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewAccountNotFound(key.String())
		}
		return nil, errors.NewDatabaseError("get account", err)
	}
	return account, nil
}

// HasPaymentRecord reports whether the account's history already holds the
// natural key
func (r *AccountRepository) HasPaymentRecord(ctx context.Context, accountID, naturalKey string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM payment_records WHERE account_id = $1 AND natural_key = $2)`

	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, accountID, naturalKey).Scan(&exists); err != nil {
		return false, errors.NewDatabaseError("check payment record", err)
	}
	return exists, nil
}

// Credit applies the record and increments the balance atomically. Returns
// (nil, nil) without mutation when the natural key is already recorded.
func (r *AccountRepository) Credit(ctx context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("begin credit", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var newBalance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET credits = credits + $2,
		    total_credits_earned = total_credits_earned + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING credits
	`, record.AccountID, record.Credits).Scan(&newBalance)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewAccountNotFound(record.AccountID)
		}
		return nil, errors.NewDatabaseError("increment balance", err)
	}

	applied := *record
	applied.NewBalance = newBalance

	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_records
			(id, account_id, kind, natural_key, tx_id, intent_id, token,
			 raw_amount, credits, chain_id, rail, reason, new_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (account_id, natural_key) DO NOTHING
	`, applied.ID, applied.AccountID, applied.Kind, applied.NaturalKey,
		applied.TxID, applied.IntentID, applied.Token, applied.RawAmount,
		applied.Credits, applied.ChainID, applied.Rail, applied.Reason,
		applied.NewBalance, applied.CreatedAt)
	if err != nil {
		return nil, errors.NewDatabaseError("insert payment record", err)
	}
	if tag.RowsAffected() == 0 {
		// Concurrent submission already recorded this payment; the rollback
		// undoes the balance increment.
		return nil, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.NewDatabaseError("commit credit", err)
	}
	return &applied, nil
}

// Debit decrements the balance only when it covers the amount, appending the
// spend record in the same transaction
func (r *AccountRepository) Debit(ctx context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("begin debit", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var newBalance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET credits = credits - $2,
		    total_credits_spent = total_credits_spent + $2,
		    updated_at = NOW()
		WHERE id = $1 AND credits >= $2
		RETURNING credits
	`, record.AccountID, record.Credits).Scan(&newBalance)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, r.insufficientCredits(ctx, record.AccountID, record.Credits)
		}
		return nil, errors.NewDatabaseError("decrement balance", err)
	}

	applied := *record
	applied.NewBalance = newBalance

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_records
			(id, account_id, kind, natural_key, tx_id, intent_id, token,
			 raw_amount, credits, chain_id, rail, reason, new_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, applied.ID, applied.AccountID, applied.Kind, applied.NaturalKey,
		applied.TxID, applied.IntentID, applied.Token, applied.RawAmount,
		applied.Credits, applied.ChainID, applied.Rail, applied.Reason,
		applied.NewBalance, applied.CreatedAt)
	if err != nil {
		return nil, errors.NewDatabaseError("insert spend record", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.NewDatabaseError("commit debit", err)
	}
	return &applied, nil
}

// UpdateEntitlement caches the latest entitlement flags on the account.
// Display-only; credit computation never reads these back.
func (r *AccountRepository) UpdateEntitlement(ctx context.Context, accountID string, result *models.EntitlementResult) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE accounts
		SET nft_holder = $2,
		    owned_collections = $3,
		    entitlement_checked_at = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, accountID, result.IsHolder, result.OwnedCollections, result.CheckedAt)
	if err != nil {
		return errors.NewDatabaseError("update entitlement", err)
	}
	return nil
}

// insufficientCredits reports the observed balance alongside the required
// amount, distinguishing a missing account from an underfunded one
func (r *AccountRepository) insufficientCredits(ctx context.Context, accountID string, required int64) error {
	var balance int64
	err := r.db.Pool().QueryRow(ctx, `SELECT credits FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return errors.NewAccountNotFound(accountID)
		}
		return errors.NewDatabaseError("read balance", err)
	}
	return errors.NewInsufficientCredits(required, balance)
}

func keyColumn(key types.AccountKey) (column, value string, err error) {
	if err := key.Validate(); err != nil {
		return "", "", errors.NewInvalidClaim(err.Error())
	}
	switch key.Kind {
	case types.KeyWallet:
		// EVM addresses are case-insensitive hex; Solana addresses are
		// case-sensitive base58 and must not be folded.
		value := key.Value
		if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
			value = strings.ToLower(value)
		}
		return "wallet_address", value, nil
	case types.KeyEmail:
		return "email", strings.ToLower(key.Value), nil
	case types.KeyUserID:
		return "user_id", key.Value, nil
	default:
		return "", "", errors.NewInvalidClaim("unknown account key kind: " + string(key.Kind))
	}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	var wallet, email, userID *string
	var checkedAt *time.Time

	err := row.Scan(
		&account.ID,
		&wallet,
		&email,
		&userID,
		&account.Credits,
		&account.TotalCreditsEarned,
		&account.TotalCreditsSpent,
		&account.NFTHolder,
		&account.OwnedCollections,
		&checkedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if wallet != nil {
		account.WalletAddress = *wallet
	}
	if email != nil {
		account.Email = *email
	}
	if userID != nil {
		account.UserID = *userID
	}
	if checkedAt != nil {
		account.EntitlementChecked = *checkedAt
	}
	return &account, nil
}
