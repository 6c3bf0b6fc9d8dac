package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
)

func newCalc(t *testing.T, rate string) *Calculator {
	t.Helper()
	calc, err := NewCalculator(decimal.RequireFromString(rate))
	require.NoError(t, err)
	return calc
}

func d(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(value)
}

func TestQuoteItemsTenPercent(t *testing.T) {
	calc := newCalc(t, "0.10")

	quote, err := calc.QuoteItems([]CartItem{
		{Name: "Print", UnitPrice: d(t, "100"), Qty: 2},
	})
	require.NoError(t, err)

	assert.True(t, quote.Subtotal.Equal(d(t, "200.00")), "subtotal %s", quote.Subtotal)
	assert.True(t, quote.TaxAmount.Equal(d(t, "20.00")), "tax %s", quote.TaxAmount)
	assert.True(t, quote.Total.Equal(d(t, "220.00")), "total %s", quote.Total)
}

func TestQuoteItemsRoundsHalfUp(t *testing.T) {
	calc := newCalc(t, "0.10")

	// 33.33 * 3 = 99.99; tax 9.999 rounds up to 10.00
	quote, err := calc.QuoteItems([]CartItem{
		{Name: "Sketch", UnitPrice: d(t, "33.33"), Qty: 3},
	})
	require.NoError(t, err)

	assert.True(t, quote.Subtotal.Equal(d(t, "99.99")))
	assert.True(t, quote.TaxAmount.Equal(d(t, "10.00")), "tax %s", quote.TaxAmount)
	assert.True(t, quote.Total.Equal(d(t, "109.99")))
}

func TestQuoteItemsDeterministic(t *testing.T) {
	calc := newCalc(t, "0.0825")
	items := []CartItem{
		{Name: "Canvas", UnitPrice: d(t, "149.95"), Qty: 1},
		{Name: "Frame", UnitPrice: d(t, "39.50"), Qty: 2},
	}

	first, err := calc.QuoteItems(items)
	require.NoError(t, err)
	second, err := calc.QuoteItems(items)
	require.NoError(t, err)

	assert.True(t, first.Subtotal.Equal(second.Subtotal))
	assert.True(t, first.TaxAmount.Equal(second.TaxAmount))
	assert.True(t, first.Total.Equal(second.Total))
	assert.True(t, first.Total.Equal(first.Subtotal.Add(first.TaxAmount)))
}

func TestQuoteItemsZeroRate(t *testing.T) {
	calc := newCalc(t, "0")
	quote, err := calc.QuoteItems([]CartItem{
		{Name: "Gift card", UnitPrice: d(t, "25"), Qty: 1},
	})
	require.NoError(t, err)
	assert.True(t, quote.TaxAmount.IsZero())
	assert.True(t, quote.Total.Equal(quote.Subtotal))
}

func TestQuoteItemsRejectsBadInput(t *testing.T) {
	calc := newCalc(t, "0.10")

	_, err := calc.QuoteItems(nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = calc.QuoteItems([]CartItem{{Name: "x", UnitPrice: d(t, "1"), Qty: 0}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = calc.QuoteItems([]CartItem{{Name: "x", UnitPrice: d(t, "-1"), Qty: 1}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewCalculatorRejectsNegativeRate(t *testing.T) {
	_, err := NewCalculator(decimal.RequireFromString("-0.1"))
	assert.Error(t, err)
}
