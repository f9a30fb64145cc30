package sentinel

import (
	"fmt"
	"math"
	"math/bits"
)

// Picounits is the fixed-point monetary unit for all internal cost
// arithmetic: one picounit is 10^-12 of the display currency. Integer
// accumulation avoids floating-point drift across millions of small charges.
// The full uint64 range covers about 1.8e7 display units, far above any
// realistic budget.
type Picounits uint64

// PicoPerUnit is the number of picounits in one display-currency unit.
const PicoPerUnit = 1_000_000_000_000

// MaxPicounits is the saturation ceiling for picounit arithmetic.
const MaxPicounits = Picounits(math.MaxUint64)

// PicounitsFromDisplay converts a display-currency amount to picounits,
// rounding half away from zero. NaN and negative inputs clamp to zero;
// amounts beyond the representable range saturate.
func PicounitsFromDisplay(v float64) Picounits {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	scaled := math.Round(v * PicoPerUnit)
	if scaled >= math.MaxUint64 {
		return MaxPicounits
	}
	return Picounits(scaled)
}

// Display returns the amount in display-currency units. Totals near the
// saturation ceiling lose sub-picounit precision to float64; the integer
// ledger itself stays exact.
func (p Picounits) Display() float64 {
	return float64(p) / PicoPerUnit
}

// String formats the amount with full 12-digit fractional precision.
func (p Picounits) String() string {
	return fmt.Sprintf("%d.%012d", uint64(p)/PicoPerUnit, uint64(p)%PicoPerUnit)
}

// MulTokens multiplies a per-token price by a token count, saturating on
// overflow.
func (p Picounits) MulTokens(n int) Picounits {
	if n <= 0 || p == 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(p), uint64(n))
	if hi != 0 {
		return MaxPicounits
	}
	return Picounits(lo)
}

// AddSat returns p+q, saturating at MaxPicounits.
func (p Picounits) AddSat(q Picounits) Picounits {
	s := p + q
	if s < p {
		return MaxPicounits
	}
	return s
}
