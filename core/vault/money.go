package vault

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Currency is the unit every amount of the vault is expressed in.
var Currency = currency.MustParseISO("COP")

var pesos = message.NewPrinter(language.MustParse("es-CO"))

// Format renders an amount the way the storefront shows it: rounded to whole
// pesos with es-CO thousands separators, e.g. "$38.000 COP".
func Format(amount decimal.Decimal) string {
	n := amount.Round(0).IntPart()

	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	return pesos.Sprintf("%s$%d %s", sign, n, Currency)
}
