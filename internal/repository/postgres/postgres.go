package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/security"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Provider hands out stores over a single connection pool. rlsRole, when
// set, is assumed by user-scoped transactions so row-level security applies.
type Provider struct {
	db      *sql.DB
	rlsRole string
}

func NewProvider(db *sql.DB, rlsRole string) *Provider {
	return &Provider{db: db, rlsRole: rlsRole}
}

func (p *Provider) AsSystem() repository.Store {
	return &Store{db: p.db}
}

func (p *Provider) AsUser(session *security.Session) repository.Store {
	return &Store{db: p.db, session: session, rlsRole: p.rlsRole}
}

type Store struct {
	db      *sql.DB
	session *security.Session
	rlsRole string
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.session != nil {
		if err := s.applySession(ctx, tx); err != nil {
			return err
		}
	}

	if err := fn(newTxRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type jwtClaims struct {
	Sub         string            `json:"sub"`
	Email       string            `json:"email,omitempty"`
	Role        string            `json:"role"`
	AppMetadata map[string]string `json:"app_metadata"`
}

// applySession exposes the caller to row-level security policies for the
// rest of the transaction.
func (s *Store) applySession(ctx context.Context, tx *sql.Tx) error {
	claims, err := json.Marshal(jwtClaims{
		Sub:         s.session.UserID.String(),
		Email:       s.session.Email,
		Role:        "authenticated",
		AppMetadata: map[string]string{"role": string(s.session.Role)},
	})
	if err != nil {
		return fmt.Errorf("encode session claims: %w", err)
	}

	logger.DatabaseCall("applySession", "set_config request.jwt.claims", "userID", s.session.UserID)
	if _, err := tx.ExecContext(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, string(claims)); err != nil {
		return fmt.Errorf("set session claims: %w", err)
	}

	if s.rlsRole != "" {
		if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+pq.QuoteIdentifier(s.rlsRole)); err != nil {
			return fmt.Errorf("assume role %s: %w", s.rlsRole, err)
		}
	}
	return nil
}

type txRepos struct {
	returns repository.ReturnRepository
	orders  repository.OrderRepository
	wallets repository.WalletRepository
	audit   repository.AuditRepository
}

func newTxRepos(q DBTX) *txRepos {
	return &txRepos{
		returns: NewReturnRepository(q),
		orders:  NewOrderRepository(q),
		wallets: NewWalletRepository(q),
		audit:   NewAuditRepository(q),
	}
}

func (t *txRepos) Returns() repository.ReturnRepository { return t.returns }
func (t *txRepos) Orders() repository.OrderRepository   { return t.orders }
func (t *txRepos) Wallets() repository.WalletRepository { return t.wallets }
func (t *txRepos) Audit() repository.AuditRepository    { return t.audit }

// withSavepoint runs fn so that its failure undoes only its own writes and
// leaves the enclosing transaction usable.
func withSavepoint(ctx context.Context, q DBTX, name string, fn func() error) error {
	if _, err := q.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint %s: %v)", err, name, rbErr)
		}
		return err
	}
	if _, err := q.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
