package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

// MySQL error numbers for lock conflicts between concurrent transactions
const (
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
)

// Executor is satisfied by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// txContextKey is the key for storing transaction in context
type txContextKey struct{}

// TransactionManager handles database transactions.
// It implements ports.Transactor.
type TransactionManager struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ ports.Transactor = (*TransactionManager)(nil)

// NewTransactionManager creates a new TransactionManager
func NewTransactionManager(db *sql.DB, logger *zap.Logger) *TransactionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionManager{
		db:     db,
		logger: logger.Named("tx"),
	}
}

// WithinTransaction runs fn in a transaction carried by the ctx it receives.
// A call made with a ctx that already carries a transaction joins it.
// fn runs at most once: a deadlock or lock wait timeout rolls back and is
// reported as a CONFLICT for the caller to retry.
func (tm *TransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tm.InTransaction(ctx) {
		return fn(ctx)
	}

	err := tm.run(ctx, fn)
	if err != nil && isDeadlock(err) {
		tm.logger.Warn("transaction lost a lock conflict", zap.Error(err))
		return apperrors.NewConflictError("transaction", "", "lock conflict with a concurrent request, retry")
	}
	return err
}

// InTransaction reports whether ctx carries an open transaction
func (tm *TransactionManager) InTransaction(ctx context.Context) bool {
	return ExtractTx(ctx) != nil
}

func (tm *TransactionManager) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(InjectTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit transaction", err)
	}
	return nil
}

// InjectTx injects a transaction into the context
func InjectTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// ExtractTx extracts a transaction from the context
func ExtractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executor returns the transaction carried by ctx, or db
func executor(ctx context.Context, db *sql.DB) Executor {
	if tx := ExtractTx(ctx); tx != nil {
		return tx
	}
	return db
}

// isDeadlock checks if an error is a MySQL deadlock or lock wait timeout
func isDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errLockDeadlock || myErr.Number == errLockWaitTimeout
	}
	return false
}
