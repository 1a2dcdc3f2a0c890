package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/money"
)

// DiscountMode selects how a discount value is interpreted.
type DiscountMode string

const (
	// DiscountPercent treats the value as a percentage of the subtotal.
	DiscountPercent DiscountMode = "percent"
	// DiscountAmount treats the value as a flat amount off the subtotal.
	DiscountAmount DiscountMode = "amount"
)

// ParseDiscountMode normalises user input, defaulting to percent.
func ParseDiscountMode(raw string) DiscountMode {
	if strings.EqualFold(strings.TrimSpace(raw), string(DiscountAmount)) {
		return DiscountAmount
	}
	return DiscountPercent
}

// Discount is the cashier's discount input.
type Discount struct {
	Mode  DiscountMode
	Value decimal.Decimal
}

// Line describes a cart line priced tax-inclusive.
type Line struct {
	VariantID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineBreakdown is the tax-exclusive view of a single line.
type LineBreakdown struct {
	VariantID     string
	Quantity      int
	UnitPrice     decimal.Decimal
	BaseUnitPrice decimal.Decimal
	Subtotal      decimal.Decimal
}

// Totals aggregates the derived invoice amounts. It is a pure projection of
// the inputs passed to Compute.
type Totals struct {
	Lines           []LineBreakdown
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	DiscountPercent decimal.Decimal
	AfterDiscount   decimal.Decimal
	TaxAmount       decimal.Decimal
	GrandTotal      decimal.Decimal
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// BaseUnitPrice strips tax out of a tax-inclusive unit price. With a zero tax
// rate the price is returned untouched.
func BaseUnitPrice(unitPrice, taxPercent decimal.Decimal) decimal.Decimal {
	unitPrice = money.NonNegative(unitPrice)
	if !taxPercent.IsPositive() {
		return unitPrice
	}
	return unitPrice.Div(one.Add(taxPercent.Div(hundred)))
}

// Compute derives subtotal, discount, tax and grand total from tax-inclusive
// cart lines. Discount and tax are rounded to cents as they are produced so
// that recomputation from the same inputs is stable.
func Compute(lines []Line, discount Discount, taxPercent decimal.Decimal) Totals {
	taxPercent = money.NonNegative(taxPercent)
	totals := Totals{
		Lines:           make([]LineBreakdown, 0, len(lines)),
		Subtotal:        decimal.Zero,
		DiscountAmount:  decimal.Zero,
		DiscountPercent: decimal.Zero,
		AfterDiscount:   decimal.Zero,
		TaxAmount:       decimal.Zero,
		GrandTotal:      decimal.Zero,
	}

	raw := decimal.Zero
	for _, it := range lines {
		qty := it.Quantity
		if qty < 0 {
			qty = 0
		}
		base := BaseUnitPrice(it.UnitPrice, taxPercent)
		lineSubtotal := base.Mul(decimal.NewFromInt(int64(qty)))
		totals.Lines = append(totals.Lines, LineBreakdown{
			VariantID:     it.VariantID,
			Quantity:      qty,
			UnitPrice:     money.NonNegative(it.UnitPrice),
			BaseUnitPrice: base,
			Subtotal:      lineSubtotal,
		})
		raw = raw.Add(lineSubtotal)
	}
	subtotal := money.Round2(raw)
	if !subtotal.IsPositive() {
		return totals
	}
	totals.Subtotal = subtotal

	value := money.NonNegative(discount.Value)
	var discountAmount, discountPercent decimal.Decimal
	switch discount.Mode {
	case DiscountAmount:
		discountAmount = money.Round2(decimal.Min(value, subtotal))
		discountPercent = decimal.Min(discountAmount.Div(subtotal).Mul(hundred), hundred).Round(4)
	default:
		discountAmount = money.Round2(money.Percent(subtotal, value))
		discountPercent = decimal.Min(value, hundred)
	}
	if discountAmount.GreaterThan(subtotal) {
		discountAmount = subtotal
	}
	totals.DiscountAmount = discountAmount
	totals.DiscountPercent = discountPercent

	afterDiscount := subtotal.Sub(discountAmount)
	totals.AfterDiscount = afterDiscount

	tax := decimal.Zero
	if taxPercent.IsPositive() {
		tax = money.Round2(money.Percent(afterDiscount, taxPercent))
	}
	totals.TaxAmount = tax
	totals.GrandTotal = afterDiscount.Add(tax)
	return totals
}

// Markup returns (price - cost) / cost * 100 rounded to cents, or zero when
// cost is not positive.
func Markup(price, cost decimal.Decimal) decimal.Decimal {
	if !cost.IsPositive() {
		return decimal.Zero
	}
	return money.Round2(price.Sub(cost).Div(cost).Mul(hundred))
}

// Margin returns (price - cost) / price * 100 rounded to cents, or zero when
// price is not positive.
func Margin(price, cost decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return money.Round2(price.Sub(cost).Div(price).Mul(hundred))
}
