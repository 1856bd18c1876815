package alpaca

import (
	"testing"

	"github.com/quantfold/rebalancer/internal/model"
	"github.com/shopspring/decimal"
)

func TestParseDec(t *testing.T) {
	d, err := parseDec("qty", "1.5")
	if err != nil {
		t.Fatalf("parseDec: %s", err)
	}
	if !d.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("got %s, want 1.5", d)
	}

	if _, err := parseDec("qty", ""); err == nil {
		t.Fatal("expected error for empty field")
	}
	if _, err := parseDec("qty", "abc"); err == nil {
		t.Fatal("expected error for garbage field")
	}
}

func TestParseDecOr(t *testing.T) {
	fallback := decimal.NewFromInt(7)
	if got := parseDecOr("", fallback); !got.Equal(fallback) {
		t.Fatalf("got %s, want fallback", got)
	}
	if got := parseDecOr("2.25", fallback); !got.Equal(decimal.RequireFromString("2.25")) {
		t.Fatalf("got %s, want 2.25", got)
	}
}

func TestAssetClassFromAPI(t *testing.T) {
	tests := []struct {
		in   string
		want model.AssetClass
	}{
		{"us_equity", model.Equity},
		{"crypto", model.Crypto},
		{"us_option", model.Option},
	}
	for _, tt := range tests {
		got, err := assetClassFromAPI(tt.in)
		if err != nil {
			t.Fatalf("%s: %s", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := assetClassFromAPI("futures"); err == nil {
		t.Fatal("expected error for unknown class")
	}
}
