// Command billcalc prints the billing totals for a cart described in JSON.
//
//	billcalc -file cart.json
//	echo '{"lines":[{"variantId":"a","quantity":2,"unitPrice":"118"}],"taxPercent":"18"}' | billcalc
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/money"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

type input struct {
	Lines []struct {
		VariantID string          `json:"variantId"`
		Quantity  int             `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unitPrice"`
	} `json:"lines"`
	Discount struct {
		Mode  string          `json:"mode"`
		Value decimal.Decimal `json:"value"`
	} `json:"discount"`
	TaxPercent decimal.Decimal `json:"taxPercent"`
	Currency   string          `json:"currency"`
	Locale     string          `json:"locale"`
}

func main() {
	path := flag.String("file", "", "cart JSON file (default stdin)")
	asJSON := flag.Bool("json", false, "print totals as JSON")
	flag.Parse()

	var src io.Reader = os.Stdin
	if *path != "" {
		f, err := os.Open(*path)
		if err != nil {
			log.Fatalf("open %s: %v", *path, err)
		}
		defer f.Close()
		src = f
	}

	var in input
	if err := json.NewDecoder(src).Decode(&in); err != nil {
		log.Fatalf("decode cart: %v", err)
	}

	lines := make([]pricing.Line, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, pricing.Line{VariantID: l.VariantID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	discount := pricing.Discount{Mode: pricing.ParseDiscountMode(in.Discount.Mode), Value: in.Discount.Value}
	totals := pricing.Compute(lines, discount, in.TaxPercent)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]string{
			"subtotalExclTax":           totals.Subtotal.StringFixed(2),
			"discountAmount":            totals.DiscountAmount.StringFixed(2),
			"discountPercentEquivalent": totals.DiscountPercent.String(),
			"afterDiscount":             totals.AfterDiscount.StringFixed(2),
			"taxAmount":                 totals.TaxAmount.StringFixed(2),
			"grandTotal":                totals.GrandTotal.StringFixed(2),
		}); err != nil {
			log.Fatalf("encode totals: %v", err)
		}
		return
	}

	f := money.NewFormatter(in.Currency, in.Locale)
	for _, l := range totals.Lines {
		fmt.Printf("%-20s %3d x %12s  %12s\n", l.VariantID, l.Quantity, f.Format(l.BaseUnitPrice), f.Format(l.Subtotal))
	}
	fmt.Printf("%-20s %30s\n", "Subtotal (excl tax)", f.Format(totals.Subtotal))
	fmt.Printf("%-20s %30s\n", "Discount ("+totals.DiscountPercent.String()+"%)", f.Format(totals.DiscountAmount))
	fmt.Printf("%-20s %30s\n", "Tax ("+money.NonNegative(in.TaxPercent).String()+"%)", f.Format(totals.TaxAmount))
	fmt.Printf("%-20s %30s\n", "Grand total", f.Format(totals.GrandTotal))
}
