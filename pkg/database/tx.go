package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Transactor runs a unit of work inside a single database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// SQLTransactor implements Transactor over a sqlx pool.
type SQLTransactor struct {
	db *sqlx.DB
}

// NewTransactor wraps the pool.
func NewTransactor(db *sqlx.DB) *SQLTransactor {
	return &SQLTransactor{db: db}
}

// WithinTx commits when fn returns nil and rolls back otherwise. A panic inside
// fn rolls back before being re-raised.
func (t *SQLTransactor) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
