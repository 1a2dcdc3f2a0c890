package pricing

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	require.True(t, got.Equal(dec(want)), "%s: want %s, got %s", field, want, got)
}

func TestComputeInclusiveTaxWithPercentDiscount(t *testing.T) {
	lines := []Line{{VariantID: "v1", Quantity: 2, UnitPrice: dec("118.00")}}
	totals := Compute(lines, Discount{Mode: DiscountPercent, Value: dec("10")}, dec("18"))

	requireDecimal(t, "100", totals.Lines[0].BaseUnitPrice, "base unit price")
	requireDecimal(t, "200.00", totals.Subtotal, "subtotal")
	requireDecimal(t, "20.00", totals.DiscountAmount, "discount")
	requireDecimal(t, "10", totals.DiscountPercent, "discount percent")
	requireDecimal(t, "180.00", totals.AfterDiscount, "after discount")
	requireDecimal(t, "32.40", totals.TaxAmount, "tax")
	requireDecimal(t, "212.40", totals.GrandTotal, "grand total")
}

func TestComputeAmountDiscountClampsToSubtotal(t *testing.T) {
	lines := []Line{{VariantID: "v1", Quantity: 1, UnitPrice: dec("50.00")}}
	totals := Compute(lines, Discount{Mode: DiscountAmount, Value: dec("60")}, decimal.Zero)

	requireDecimal(t, "50.00", totals.Subtotal, "subtotal")
	requireDecimal(t, "50.00", totals.DiscountAmount, "discount")
	requireDecimal(t, "100", totals.DiscountPercent, "discount percent")
	requireDecimal(t, "0", totals.TaxAmount, "tax")
	requireDecimal(t, "0", totals.GrandTotal, "grand total")
}

func TestComputeAmountDiscountPercentEquivalent(t *testing.T) {
	lines := []Line{{VariantID: "v1", Quantity: 3, UnitPrice: dec("100")}}
	totals := Compute(lines, Discount{Mode: DiscountAmount, Value: dec("45")}, decimal.Zero)
	requireDecimal(t, "15", totals.DiscountPercent, "discount percent")
	requireDecimal(t, "255", totals.GrandTotal, "grand total")
}

func TestComputePercentAboveHundredIsClamped(t *testing.T) {
	lines := []Line{{VariantID: "v1", Quantity: 1, UnitPrice: dec("80")}}
	totals := Compute(lines, Discount{Mode: DiscountPercent, Value: dec("150")}, dec("5"))
	requireDecimal(t, "100", totals.DiscountPercent, "discount percent")
	require.True(t, totals.DiscountAmount.Equal(totals.Subtotal))
	requireDecimal(t, "0", totals.GrandTotal, "grand total")
}

func TestComputeEmptyCartIsAllZero(t *testing.T) {
	for _, mode := range []DiscountMode{DiscountPercent, DiscountAmount} {
		totals := Compute(nil, Discount{Mode: mode, Value: dec("25")}, dec("18"))
		for name, v := range map[string]decimal.Decimal{
			"subtotal":         totals.Subtotal,
			"discount":         totals.DiscountAmount,
			"discount percent": totals.DiscountPercent,
			"tax":              totals.TaxAmount,
			"grand total":      totals.GrandTotal,
		} {
			require.True(t, v.IsZero(), "%s (%s) should be zero, got %s", name, mode, v)
		}
	}
}

func TestZeroTaxKeepsUnitPrice(t *testing.T) {
	prices := []string{"0.01", "1.10", "19.99", "1234.567"}
	for _, p := range prices {
		require.True(t, BaseUnitPrice(dec(p), decimal.Zero).Equal(dec(p)))
	}
	lines := []Line{{VariantID: "a", Quantity: 1, UnitPrice: dec("19.99")}}
	totals := Compute(lines, Discount{}, decimal.Zero)
	require.True(t, totals.Lines[0].BaseUnitPrice.Equal(dec("19.99")))
}

func TestNegativeInputsAreCoerced(t *testing.T) {
	lines := []Line{
		{VariantID: "a", Quantity: -3, UnitPrice: dec("10")},
		{VariantID: "b", Quantity: 1, UnitPrice: dec("-5")},
		{VariantID: "c", Quantity: 1, UnitPrice: dec("10")},
	}
	totals := Compute(lines, Discount{Mode: DiscountAmount, Value: dec("-4")}, dec("-18"))
	requireDecimal(t, "10", totals.Subtotal, "subtotal")
	requireDecimal(t, "0", totals.DiscountAmount, "discount")
	requireDecimal(t, "0", totals.TaxAmount, "tax")
	requireDecimal(t, "10", totals.GrandTotal, "grand total")
}

func TestParseDiscountMode(t *testing.T) {
	require.Equal(t, DiscountAmount, ParseDiscountMode(" Amount "))
	require.Equal(t, DiscountPercent, ParseDiscountMode("percent"))
	require.Equal(t, DiscountPercent, ParseDiscountMode("bogus"))
}

func TestComputeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	taxRates := []string{"0", "5", "12", "18", "28", "7.5"}
	tolerance := dec("0.01")

	for i := 0; i < 2000; i++ {
		n := rng.Intn(6)
		lines := make([]Line, 0, n)
		for j := 0; j < n; j++ {
			cents := rng.Int63n(500000)
			lines = append(lines, Line{
				VariantID: "v",
				Quantity:  1 + rng.Intn(9),
				UnitPrice: decimal.New(cents, -2),
			})
		}
		discount := Discount{Mode: DiscountPercent, Value: decimal.New(rng.Int63n(12000), -2)}
		if rng.Intn(2) == 0 {
			discount = Discount{Mode: DiscountAmount, Value: decimal.New(rng.Int63n(2000000), -2)}
		}
		tax := dec(taxRates[rng.Intn(len(taxRates))])

		first := Compute(lines, discount, tax)
		second := Compute(lines, discount, tax)

		recomposed := first.Subtotal.Sub(first.DiscountAmount).Add(first.TaxAmount)
		require.True(t, recomposed.Sub(first.GrandTotal).Abs().LessThanOrEqual(tolerance),
			"grand total %s drifts from %s", first.GrandTotal, recomposed)
		require.True(t, first.DiscountAmount.LessThanOrEqual(first.Subtotal),
			"discount %s exceeds subtotal %s", first.DiscountAmount, first.Subtotal)
		require.False(t, first.GrandTotal.IsNegative())
		require.True(t, first.DiscountPercent.LessThanOrEqual(hundred))

		require.Equal(t, first.Subtotal.String(), second.Subtotal.String())
		require.Equal(t, first.DiscountAmount.String(), second.DiscountAmount.String())
		require.Equal(t, first.DiscountPercent.String(), second.DiscountPercent.String())
		require.Equal(t, first.TaxAmount.String(), second.TaxAmount.String())
		require.Equal(t, first.GrandTotal.String(), second.GrandTotal.String())

		if tax.IsZero() {
			for k, l := range first.Lines {
				require.True(t, l.BaseUnitPrice.Equal(lines[k].UnitPrice))
			}
		}
	}
}

func TestMarkupAndMargin(t *testing.T) {
	requireDecimal(t, "25", Markup(dec("125"), dec("100")), "markup")
	requireDecimal(t, "20", Margin(dec("125"), dec("100")), "margin")
	requireDecimal(t, "0", Markup(dec("10"), decimal.Zero), "markup zero cost")
	requireDecimal(t, "0", Margin(decimal.Zero, dec("3")), "margin zero price")
}
