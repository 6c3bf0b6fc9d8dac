package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	pgTxn := errors.New(`ERROR: duplicate key value violates unique constraint "idx_orders_payment_transaction_id" (SQLSTATE 23505)`)
	pgNumber := errors.New(`ERROR: duplicate key value violates unique constraint "idx_orders_order_number" (SQLSTATE 23505)`)
	sqliteTxn := errors.New("UNIQUE constraint failed: orders.payment_transaction_id")

	assert.True(t, IsUniqueViolation(pgTxn, "orders_payment_transaction_id", "orders.payment_transaction_id"))
	assert.True(t, IsUniqueViolation(sqliteTxn, "orders_payment_transaction_id", "orders.payment_transaction_id"))

	// A collision on a different unique index must not be mistaken for a
	// duplicate transaction.
	assert.False(t, IsUniqueViolation(pgNumber, "orders_payment_transaction_id", "orders.payment_transaction_id"))

	// Without names, any unique violation matches.
	assert.True(t, IsUniqueViolation(pgNumber))

	assert.False(t, IsUniqueViolation(errors.New("connection refused"), "orders_payment_transaction_id"))
	assert.False(t, IsUniqueViolation(nil))
}
