package triage

import (
	"testing"
	"triagem/lib/cadastre"

	"github.com/stretchr/testify/require"
)

func records(mappingAddress, planAddress string) (*cadastre.SourceRecord, *cadastre.SourceRecord) {
	mapping := cadastre.NewSourceRecord(cadastre.SOURCE_CADASTRAL_MAPPING)
	mapping.Set(cadastre.FieldCtmGeoAddress, cadastre.Text(mappingAddress))
	plan := cadastre.NewSourceRecord(cadastre.SOURCE_BASIC_PLAN)
	plan.Set(cadastre.FieldPropertyAddress, cadastre.Text(planAddress))
	return mapping, plan
}

func TestResolveAddress(t *testing.T) {
	testCases := []struct {
		name     string
		mapping  string
		plan     string
		expected string
	}{
		{name: "mapping wins", mapping: "Rua A, 100", plan: "Rua B, 200", expected: "Rua A, 100"},
		{name: "falls back to basic plan", mapping: "", plan: "Rua B, 200", expected: "Rua B, 200"},
		{name: "sentinel counts as missing", mapping: cadastre.NotInformedText, plan: "Rua B, 200", expected: "Rua B, 200"},
		{name: "nothing", mapping: "", plan: "", expected: AddressNotFound},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			mapping, plan := records(test.mapping, test.plan)
			require.Equal(t, test.expected, ResolveAddress(mapping, plan))
		})
	}

	require.Equal(t, AddressNotFound, ResolveAddress(nil, nil))
}

func TestTokenizeAddress(t *testing.T) {
	testCases := []struct {
		address  string
		expected AddressTokens
	}{
		{
			address:  "Rua das Flores, 100 - 30123-000",
			expected: AddressTokens{Street: "rua das flores", Number: "100", PostalCode: "30123000"},
		},
		{
			address:  "Rua das Flores, 100, 30123000",
			expected: AddressTokens{Street: "rua das flores", Number: "100", PostalCode: "30123000"},
		},
		{
			address:  "AVENIDA  AFONSO   PENA, 1.212 - Belo Horizonte - MG, 30130-003",
			expected: AddressTokens{Street: "avenida afonso pena", Number: "1212", PostalCode: "30130003"},
		},
		{
			address:  "Rua das Flores, 100 - 30.123-000",
			expected: AddressTokens{Street: "rua das flores", Number: "100", PostalCode: "30123000"},
		},
		{
			address:  "Rua das Flores, 12345 - 30123-000",
			expected: AddressTokens{Street: "rua das flores", Number: "12345", PostalCode: "30123000"},
		},
		{
			address:  "Rua das Flores, 30123-000",
			expected: AddressTokens{Street: "rua das flores", PostalCode: "30123000"},
		},
		{
			address:  "Rua das Flores, 30123000",
			expected: AddressTokens{Street: "rua das flores", PostalCode: "30123000"},
		},
		{
			address:  "RUA DAS FLORES - Belo Horizonte - MG, 30123000",
			expected: AddressTokens{Street: "rua das flores", PostalCode: "30123000"},
		},
		{
			address:  "Rua sem numero",
			expected: AddressTokens{Street: "rua sem numero"},
		},
		{address: cadastre.NotInformedText},
		{address: AddressNotFound},
		{address: "  "},
	}

	for _, test := range testCases {
		require.Equal(t, test.expected, TokenizeAddress(test.address), test.address)
	}
}

func TestCompareAddresses(t *testing.T) {
	same := CompareAddresses("Rua das Flores, 100 - 30123-000", "Rua das Flores, 100, 30123000")
	require.True(t, same.Compared)
	require.True(t, same.Match)
	require.InDelta(t, 1.0, same.StreetSimilarity, 1e-9)

	for _, left := range []string{
		"Rua das Flores, 100 - 30.123-000",
		"Rua das Flores, 100 - 30123 - 000",
	} {
		result := CompareAddresses(left, "Rua das Flores, 100, 30123000")
		require.True(t, result.Match, left)
	}

	longNumber := CompareAddresses("Rua das Flores, 12345 - 30123-000", "Rua das Flores, 12345, 30123000")
	require.True(t, longNumber.Match)
	require.Equal(t, "30123000", longNumber.Left.PostalCode)

	otherNumber := CompareAddresses("Rua das Flores, 100 - 30123-000", "Rua das Flores, 102 - 30123-000")
	require.True(t, otherNumber.Compared)
	require.False(t, otherNumber.Match)

	typo := CompareAddresses("Rua das Flores, 100", "Rua das Floris, 100")
	require.False(t, typo.Match)
	require.Greater(t, typo.StreetSimilarity, 0.9)
	require.Less(t, typo.StreetSimilarity, 1.0)

	accents := CompareAddresses("Rua São João, 10", "Rua Sao Joao, 10")
	require.False(t, accents.Match)
	require.InDelta(t, 1.0, accents.StreetSimilarity, 1e-9)

	missing := CompareAddresses("Rua A, 100", cadastre.NotInformedText)
	require.False(t, missing.Compared)
	require.False(t, missing.Match)
}

func TestCompareAreas(t *testing.T) {
	plan := cadastre.NewSourceRecord(cadastre.SOURCE_BASIC_PLAN)
	mapping := cadastre.NewSourceRecord(cadastre.SOURCE_CADASTRAL_MAPPING)

	require.False(t, CompareAreas(plan, mapping).Compared)

	plan.Set(cadastre.FieldBuiltArea, cadastre.ParseArea("1.088,24 m²"))
	mapping.Set(cadastre.FieldCtmGeoArea, cadastre.Area(1088.245))
	result := CompareAreas(plan, mapping)
	require.True(t, result.Compared)
	require.True(t, result.Match)

	mapping.Set(cadastre.FieldCtmGeoArea, cadastre.Area(1090))
	result = CompareAreas(plan, mapping)
	require.True(t, result.Compared)
	require.False(t, result.Match)
}
