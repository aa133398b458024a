package gateway

import (
	"errors"
	"testing"
)

func TestCentsToDecimal(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{500_00, "500.00"},
		{1_234_56, "1234.56"},
		{-99_01, "-99.01"},
	}
	for _, tc := range cases {
		if got := CentsToDecimal(tc.cents); got != tc.want {
			t.Errorf("CentsToDecimal(%d) = %s, 期望 %s", tc.cents, got, tc.want)
		}
	}
}

func TestParseUSDToCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"500.00000000", 500_00},
		{"500", 500_00},
		{"0.01", 1},
		{"  480.5 ", 480_50},
		{"1234.56", 1_234_56},
	}
	for _, tc := range cases {
		got, err := ParseUSDToCents(tc.in)
		if err != nil {
			t.Errorf("ParseUSDToCents(%q) 出错: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseUSDToCents(%q) = %d, 期望 %d", tc.in, got, tc.want)
		}
	}

	for _, in := range []string{"", "abc", "NaN", "Inf"} {
		if _, err := ParseUSDToCents(in); !errors.Is(err, ErrBadAmount) {
			t.Errorf("ParseUSDToCents(%q) 应返回 ErrBadAmount，实际 %v", in, err)
		}
	}
}
