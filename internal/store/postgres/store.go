// Package postgres is the pgx-backed entity store. Each RunInTx is one
// REPEATABLE READ transaction; audit appends go through the same pgx.Tx and
// land in the outbox alongside the entity change.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"kycvault/internal/platform/postgres"
	"kycvault/internal/store"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	auditpostgres "kycvault/pkg/platform/audit/store/postgres"
	"kycvault/pkg/platform/sentinel"
)

const defaultMaxAttempts = 3

// Store runs transactions against a pgx pool.
type Store struct {
	pool        postgres.PgxPool
	timeout     time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithTimeout overrides store.DefaultTxTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// WithMaxAttempts bounds retries of transactions aborted by a serialization
// failure.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(pool postgres.PgxPool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		timeout:     store.DefaultTxTimeout,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx retries only when Postgres aborts the transaction with a
// serialization failure; in that case nothing was committed.
func (s *Store) RunInTx(ctx context.Context, fn func(stores store.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !postgres.IsSerializationFailure(err) {
			break
		}
		s.logger.WarnContext(ctx, "transaction serialization failure, retrying",
			"attempt", attempt,
		)
	}
	if err != nil && postgres.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction timed out")
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, fn func(stores store.Stores) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&txStores{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStores binds every repository to one pgx.Tx.
type txStores struct {
	tx pgx.Tx
}

func (t *txStores) Profiles() store.ProfileStore { return &profileRepo{db: t.tx} }
func (t *txStores) Consents() store.ConsentStore { return &consentRepo{db: t.tx} }
func (t *txStores) Tokens() store.TokenStore     { return &tokenRepo{db: t.tx} }
func (t *txStores) Audit() audit.Store           { return auditpostgres.New(t.tx) }

// translate maps driver errors to store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return sentinel.ErrNotFound
	case postgres.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
	case postgres.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", sentinel.ErrNotFound, err)
	default:
		return err
	}
}
