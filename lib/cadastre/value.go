package cadastre

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NotInformedText is how a missing field is rendered everywhere.
const NotInformedText = "Não informado"

type ValueKind int

const (
	VALUE_NOT_INFORMED ValueKind = iota
	VALUE_TEXT
	VALUE_AREA
)

// Value is a single field read from a portal: free text, an area in square
// meters, or the explicit "not informed" sentinel. The zero Value is the
// sentinel.
type Value struct {
	Kind ValueKind
	Text string
	Area float64
}

func NotInformed() Value {
	return Value{}
}

// Text wraps free text, blank text is not informed.
func Text(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, NotInformedText) {
		return NotInformed()
	}
	return Value{Kind: VALUE_TEXT, Text: s}
}

func Area(m2 float64) Value {
	if math.IsNaN(m2) || math.IsInf(m2, 0) {
		return NotInformed()
	}
	return Value{Kind: VALUE_AREA, Area: m2}
}

func (v Value) Informed() bool {
	return v.Kind != VALUE_NOT_INFORMED
}

func (v Value) String() string {
	switch v.Kind {
	case VALUE_TEXT:
		return v.Text
	case VALUE_AREA:
		return FormatArea(v.Area)
	default:
		return NotInformedText
	}
}

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// ParseArea reads an area as printed by the portals, in either brazilian
// ("1.088,24 m²") or international ("1088.24") notation.
func ParseArea(raw string) Value {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" || v == strings.ToLower(NotInformedText) {
		return NotInformed()
	}
	v = strings.ReplaceAll(v, "m²", "")
	v = strings.ReplaceAll(v, "m2", "")
	v = strings.TrimSpace(v)

	switch {
	case strings.Contains(v, ",") && strings.Contains(v, "."):
		v = strings.ReplaceAll(v, ".", "")
		v = strings.ReplaceAll(v, ",", ".")
	case strings.Contains(v, ","):
		v = strings.ReplaceAll(v, ",", ".")
	}
	v = nonNumeric.ReplaceAllString(v, "")

	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return NotInformed()
	}
	return Area(parsed)
}

// FormatArea prints square meters in brazilian notation, "1.088,24 m²".
func FormatArea(m2 float64) string {
	sign := ""
	if m2 < 0 {
		sign = "-"
		m2 = -m2
	}
	fixed := strconv.FormatFloat(m2, 'f', 2, 64)
	whole, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(digit)
	}

	return sign + grouped.String() + "," + frac + " m²"
}
