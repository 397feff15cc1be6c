package models

import (
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatPrice renders a USD amount with thousands separators and two
// decimals, e.g. 95001.5 -> "$95,001.50".
func FormatPrice(v float64) string {
	if v < 0 {
		return "-$" + printer.Sprintf("%.2f", -v)
	}
	return "$" + printer.Sprintf("%.2f", v)
}

// FormatQuantity renders a base amount with six decimals.
func FormatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// FormatValue formats v as a price or a quantity depending on c.
func FormatValue(c Condition, v float64) string {
	if c.OnPrice() {
		return FormatPrice(v)
	}
	return FormatQuantity(v)
}
