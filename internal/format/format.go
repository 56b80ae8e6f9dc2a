// Package format renders monetary amounts for receipts and portal views.
// Amounts are carried in minor units (centavos); display is US-style
// separators with an optional Spanish words rendering for legal receipts.
package format

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Currency formats minor units as "$1,500.00".
func Currency(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return sign + "$" + printer.Sprint(number.Decimal(float64(minor)/100,
		number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// CurrencyWords formats minor units as "$1,500.00 mil quinientos".
func CurrencyWords(minor int64) string {
	return Currency(minor) + " " + SpanishWords(minor/100)
}

var (
	unidades = []string{"", "un", "dos", "tres", "cuatro", "cinco", "seis", "siete", "ocho", "nueve"}
	decenas  = []string{"diez", "once", "doce", "trece", "catorce", "quince", "dieciséis", "diecisiete", "dieciocho", "diecinueve"}
	decenas2 = []string{"", "", "veinte", "treinta", "cuarenta", "cincuenta", "sesenta", "setenta", "ochenta", "noventa"}
	centenas = []string{"", "ciento", "doscientos", "trescientos", "cuatrocientos", "quinientos", "seiscientos", "setecientos", "ochocientos", "novecientos"}
)

// SpanishWords converts a whole amount to its Spanish words representation.
// Amounts of a billion or more fall back to plain digits.
func SpanishWords(n int64) string {
	if n == 0 {
		return "cero"
	}
	if n == 100 {
		return "cien"
	}
	return strings.TrimSpace(convert(n))
}

func convert(n int64) string {
	switch {
	case n < 10:
		return unidades[n]
	case n < 20:
		return decenas[n-10]
	case n < 30:
		if n == 20 {
			return "veinte"
		}
		return "veinti" + unidades[n%10]
	case n < 100:
		d, u := n/10, n%10
		if u > 0 {
			return decenas2[d] + " y " + unidades[u]
		}
		return decenas2[d]
	case n < 1000:
		c, resto := n/100, n%100
		head := centenas[c]
		if c == 1 && resto == 0 {
			head = "cien"
		}
		if resto > 0 {
			return head + " " + convert(resto)
		}
		return head
	case n < 1_000_000:
		mil, resto := n/1000, n%1000
		head := "mil"
		if mil > 1 {
			head = convert(mil) + " mil"
		}
		if resto > 0 {
			return head + " " + convert(resto)
		}
		return head
	case n < 1_000_000_000:
		millon, resto := n/1_000_000, n%1_000_000
		head := "un millón"
		if millon > 1 {
			head = convert(millon) + " millones"
		}
		if resto > 0 {
			return head + " " + convert(resto)
		}
		return head
	default:
		return strconv.FormatInt(n, 10)
	}
}
