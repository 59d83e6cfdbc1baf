package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRound2HalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2.005", "2.01"},
		{"2.004", "2.00"},
		{"2.015", "2.02"},
		{"-0.005", "-0.01"}, // ties away from zero
		{"0", "0.00"},
		{"12.5", "12.50"},
	}
	for _, c := range cases {
		d := decimal.RequireFromString(c.in)
		if got := Format(Round2(d)); got != c.want {
			t.Errorf("Round2(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestFullPrecisionAccumulation(t *testing.T) {
	// 0.1 added ten times must be exactly 1.00, no float drift.
	tenth := decimal.RequireFromString("0.1")
	sum := Zero
	for i := 0; i < 10; i++ {
		sum = sum.Add(tenth)
	}
	if Format(sum) != "1.00" {
		t.Fatalf("sum = %s, want 1.00", Format(sum))
	}
}

func TestParseNonNegative(t *testing.T) {
	if _, err := ParseNonNegative("-1"); err == nil {
		t.Fatal("expected error for negative amount")
	}
	d, err := ParseNonNegative("  25.00 ")
	if err != nil {
		t.Fatalf("ParseNonNegative: %v", err)
	}
	if Format(d) != "25.00" {
		t.Fatalf("got %s", Format(d))
	}
	z, err := ParseNonNegative("")
	if err != nil || !z.IsZero() {
		t.Fatalf("empty input should parse to zero, got %s err=%v", z, err)
	}
	if _, err := Parse("12,5"); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}

func TestMulCount(t *testing.T) {
	price := decimal.RequireFromString("2.50")
	if got := Format(MulCount(price, 10)); got != "25.00" {
		t.Fatalf("MulCount = %s, want 25.00", got)
	}
	if got := Format(MulCount(price, 0)); got != "0.00" {
		t.Fatalf("MulCount zero count = %s, want 0.00", got)
	}
}
