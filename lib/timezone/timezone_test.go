package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReportDate(t *testing.T) {
	cases := []struct {
		at       time.Time
		expected string
	}{
		{
			at:       time.Date(2024, time.March, 5, 12, 30, 0, 0, time.UTC),
			expected: "05/03/2024 09:30",
		},
		{
			at:       time.Date(2024, time.January, 1, 2, 0, 0, 0, time.UTC),
			expected: "31/12/2023 23:00",
		},
		{
			at:       time.Date(2024, time.July, 9, 8, 5, 0, 0, Location),
			expected: "09/07/2024 08:05",
		},
	}

	for _, test := range cases {
		require.Equal(t, test.expected, ReportDate(test.at))
	}
}

func TestNow(t *testing.T) {
	require.Equal(t, Location, Now().Location())
}
