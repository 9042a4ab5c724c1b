package ports

import "context"

// Transactor runs fn inside a single database transaction. Store calls made
// with the ctx passed to fn join that transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// InTransaction reports whether ctx carries an open transaction
	InTransaction(ctx context.Context) bool
}
