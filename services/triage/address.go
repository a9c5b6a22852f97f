package triage

import (
	"math"
	"regexp"
	"strings"
	"triagem/lib/cadastre"
	"triagem/lib/textutil"

	"github.com/antzucaro/matchr"
)

const AddressNotFound = cadastre.AddressNotFound

// ResolveAddress picks the address used for the imagery lookup, the
// cadastral mapping address wins over the one printed on the basic plan.
func ResolveAddress(mapping, basicPlan *cadastre.SourceRecord) string {
	if v := mapping.Get(cadastre.FieldCtmGeoAddress); v.Informed() {
		return v.String()
	}
	if v := basicPlan.Get(cadastre.FieldPropertyAddress); v.Informed() {
		return v.String()
	}
	return AddressNotFound
}

type AddressTokens struct {
	Street     string
	Number     string
	PostalCode string
}

func (t AddressTokens) Empty() bool {
	return t.Street == "" && t.Number == "" && t.PostalCode == ""
}

var (
	postalCodeRegex = regexp.MustCompile(`(?:^|[^\d.])(\d{2}\.?\d{3}-?\d{3})(?:$|\D)`)
	numberRegex     = regexp.MustCompile(`,\s*(\d+)(?:$|[^\d-])`)
	thousandsRegex  = regexp.MustCompile(`(\d)\.(\d{3})`)
)

// TokenizeAddress splits a free text address into the parts that are
// compared between sources.
func TokenizeAddress(address string) AddressTokens {
	address = strings.TrimSpace(address)
	if address == "" ||
		strings.EqualFold(address, cadastre.NotInformedText) ||
		strings.EqualFold(address, AddressNotFound) {
		return AddressTokens{}
	}

	var tokens AddressTokens

	// the postal code is the last group of eight digits, a five digit house
	// number right before it must not run into it
	compact := strings.ReplaceAll(address, " ", "")
	if all := postalCodeRegex.FindAllStringSubmatch(compact, -1); len(all) > 0 {
		tokens.PostalCode = strings.NewReplacer(".", "", "-", "").Replace(all[len(all)-1][1])
	}

	// "1.000" is a house number, not two numbers
	numbered := thousandsRegex.ReplaceAllString(address, "$1$2")
	if m := numberRegex.FindStringSubmatch(numbered); m != nil && m[1] != tokens.PostalCode {
		tokens.Number = m[1]
	}

	street, _, _ := strings.Cut(address, ",")
	street, _, _ = strings.Cut(street, " - ")
	tokens.Street = textutil.CollapseSpaces(strings.ToLower(street))

	return tokens
}

type AddressComparison struct {
	// Compared is false when either side has no address at all.
	Compared         bool
	Match            bool
	StreetSimilarity float64
	Left             AddressTokens
	Right            AddressTokens
}

// CompareAddresses matches two addresses on street, number and postal code.
// The street similarity only informs the reader, it does not change the
// verdict.
func CompareAddresses(a, b string) AddressComparison {
	left := TokenizeAddress(a)
	right := TokenizeAddress(b)
	result := AddressComparison{Left: left, Right: right}
	if left.Empty() || right.Empty() {
		return result
	}

	result.Compared = true
	result.Match = left == right
	result.StreetSimilarity = matchr.JaroWinkler(
		textutil.FoldAccents(left.Street),
		textutil.FoldAccents(right.Street),
		false,
	)
	return result
}

const areaTolerance = 0.01

type AreaComparison struct {
	Compared bool
	Match    bool
	Built    cadastre.Value
	Mapped   cadastre.Value
}

// CompareAreas checks the built area of the basic plan against the area
// the cadastral mapping holds for the same index.
func CompareAreas(basicPlan, mapping *cadastre.SourceRecord) AreaComparison {
	result := AreaComparison{
		Built:  basicPlan.Get(cadastre.FieldBuiltArea),
		Mapped: mapping.Get(cadastre.FieldCtmGeoArea),
	}
	if result.Built.Kind != cadastre.VALUE_AREA || result.Mapped.Kind != cadastre.VALUE_AREA {
		return result
	}
	result.Compared = true
	result.Match = math.Abs(result.Built.Area-result.Mapped.Area) <= areaTolerance
	return result
}
