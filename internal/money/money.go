package money

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	// DefaultSymbol is used when the shop settings carry no currency symbol.
	DefaultSymbol = "₹"
	// DefaultLocale is used when the shop settings carry no locale tag.
	DefaultLocale = "en-IN"
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds to two decimal places, half away from zero.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Percent returns v * pct / 100 without rounding.
func Percent(v, pct decimal.Decimal) decimal.Decimal {
	return v.Mul(pct).Div(hundred)
}

// NonNegative clamps negative values to zero.
func NonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// FromFloat converts a float into a decimal treating NaN and infinities as zero.
func FromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// Formatter renders money amounts using the shop currency symbol and locale.
type Formatter struct {
	Symbol string
	Locale string
}

// NewFormatter builds a formatter, substituting defaults for blank inputs.
func NewFormatter(symbol, locale string) Formatter {
	return Formatter{Symbol: symbol, Locale: locale}
}

// Format renders amount with two fraction digits and locale grouping.
func (f Formatter) Format(amount decimal.Decimal) string {
	return f.FormatWith(amount, "")
}

// FormatFloat is Format for float inputs; NaN and infinities render as zero.
func (f Formatter) FormatFloat(amount float64) string {
	return f.Format(FromFloat(amount))
}

// FormatWith renders amount using symbolOverride instead of the configured
// symbol when the override is not blank.
func (f Formatter) FormatWith(amount decimal.Decimal, symbolOverride string) string {
	symbol := strings.TrimSpace(symbolOverride)
	if symbol == "" {
		symbol = strings.TrimSpace(f.Symbol)
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}
	rounded := Round2(amount)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	fixed := rounded.StringFixed(2)
	fraction := fixed[len(fixed)-2:]
	whole := rounded.Truncate(0).BigInt()
	if !whole.IsInt64() {
		return sign + symbol + groupLakh(whole.String()) + "." + fraction
	}
	p := message.NewPrinter(f.tag())
	digits := p.Sprint(number.Decimal(whole.Int64(), number.Scale(2)))
	if strings.HasSuffix(digits, "00") {
		digits = digits[:len(digits)-2] + fraction
	}
	return sign + symbol + digits
}

// groupLakh groups a digit string as 3 then 2 for integer parts outside int64.
func groupLakh(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(append(parts, tail), ",")
}

func (f Formatter) tag() language.Tag {
	raw := strings.TrimSpace(f.Locale)
	if raw == "" {
		raw = DefaultLocale
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return language.English
	}
	return tag
}
