package sentinel

import (
	"math"
	"testing"
)

func TestPicounitsFromDisplay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want Picounits
	}{
		{name: "zero", in: 0, want: 0},
		{name: "negative clamps", in: -3.5, want: 0},
		{name: "nan clamps", in: math.NaN(), want: 0},
		{name: "one unit", in: 1, want: PicoPerUnit},
		{name: "typical output price", in: 0.000001, want: 1_000_000},
		{name: "twelve digit precision", in: 0.000000000001, want: 1},
		{name: "rounds half up", in: 0.0000000000015, want: 2},
		{name: "rounds down below half", in: 0.0000000000014, want: 1},
		{name: "default budget limit", in: 10.0, want: 10 * PicoPerUnit},
		{name: "infinity saturates", in: math.Inf(1), want: MaxPicounits},
		{name: "huge amount saturates", in: 1e30, want: MaxPicounits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PicounitsFromDisplay(tt.in); got != tt.want {
				t.Errorf("PicounitsFromDisplay(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestPicounitsDisplayRoundTrip(t *testing.T) {
	t.Parallel()

	// Prices representable to 12 fractional digits must round-trip exactly.
	for _, v := range []float64{0.000001, 0.0001, 0.5, 1, 7.2, 10, 50} {
		p := PicounitsFromDisplay(v)
		if got := p.Display(); got != v {
			t.Errorf("Display(FromDisplay(%v)) = %v", v, got)
		}
	}
}

func TestPicounitsString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Picounits
		want string
	}{
		{name: "zero", in: 0, want: "0.000000000000"},
		{name: "one picounit", in: 1, want: "0.000000000001"},
		{name: "one unit", in: PicoPerUnit, want: "1.000000000000"},
		{name: "mixed", in: 7*PicoPerUnit + 200_000_000, want: "7.000200000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPicounitsMulTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		price  Picounits
		tokens int
		want   Picounits
	}{
		{name: "zero tokens", price: 1000, tokens: 0, want: 0},
		{name: "negative tokens", price: 1000, tokens: -5, want: 0},
		{name: "zero price", price: 0, tokens: 100, want: 0},
		{name: "typical charge", price: 1_000_000, tokens: 500, want: 500_000_000},
		{name: "overflow saturates", price: MaxPicounits, tokens: 2, want: MaxPicounits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.price.MulTokens(tt.tokens); got != tt.want {
				t.Errorf("MulTokens(%d) = %d, want %d", tt.tokens, got, tt.want)
			}
		})
	}
}

func TestPicounitsAddSat(t *testing.T) {
	t.Parallel()

	if got := Picounits(1).AddSat(2); got != 3 {
		t.Errorf("AddSat(1,2) = %d, want 3", got)
	}
	if got := MaxPicounits.AddSat(1); got != MaxPicounits {
		t.Errorf("AddSat at ceiling = %d, want saturation", got)
	}
	if got := Picounits(math.MaxUint64 - 1).AddSat(5); got != MaxPicounits {
		t.Errorf("AddSat overflow = %d, want saturation", got)
	}
}
