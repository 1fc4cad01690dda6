// Package fixedpoint implements FixedNumber, the exact decimal scalar used
// for every price and amount in the connector framework. It trades the
// convenience of an arbitrary-precision library for a fixed int/base/exp
// representation whose arithmetic is cheap and whose rounding behavior is
// completely pinned down.
package fixedpoint

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultAccuracy is the fractional digit count used when none is given.
const DefaultAccuracy = 8

const pow10Size = 19

var pow10Table = func() [pow10Size]int64 {
	var t [pow10Size]int64
	p := int64(1)
	for i := 0; i < pow10Size; i++ {
		t[i] = p
		p *= 10
	}
	return t
}()

// Pow10 returns 10^p for p >= 0. p >= 19 is fatal: the table only covers
// the exponents a FixedNumber can ever legally carry, and a caller asking
// for more has already violated that invariant.
func Pow10(p int64) int64 {
	if p < 0 {
		return 0
	}
	if p >= pow10Size {
		panic(fmt.Sprintf("fixedpoint: power10 argument %d out of range", p))
	}
	return pow10Table[p]
}

// FixedNumber is a signed decimal with an integer part, a fractional base,
// and an exponent (the fractional digit count). The invariant
// 0 <= |base| < 10^exp holds after every operation, and both parts carry
// the same sign.
type FixedNumber struct {
	double float64
	i      int64
	base   int64
	exp    int64
}

// Zero is the additive identity.
var Zero = FixedNumber{}

// FromInt constructs a FixedNumber from an integer at the given accuracy.
func FromInt(n int64, accuracy int) FixedNumber {
	return FixedNumber{double: float64(n), i: n, base: 0, exp: int64(accuracy)}
}

// FromFloat constructs a FixedNumber from a float64, rounded to accuracy
// fractional digits and then stripped of trailing zero digits.
func FromFloat(v float64, accuracy int) FixedNumber {
	var n FixedNumber
	n.initFromFloat(v, accuracy)
	return n
}

// Parse constructs a FixedNumber from a decimal string such as "-1.23" or
// "5". The digits before '.' become the integer part; the digits after
// become the base, with exp set to the fractional digit count. A string
// with no '.' carries no base (exp=-1, a zero fraction).
func Parse(s string) FixedNumber {
	var n FixedNumber
	n.initFromString(s)
	return n
}

func (n *FixedNumber) initFromFloat(v float64, accuracy int) {
	n.double = v
	n.i = int64(v)
	n.exp = int64(accuracy)
	n.base = int64(math.Round((v - float64(n.i)) * float64(Pow10(n.exp))))
	if p := Pow10(n.exp); p > 0 && (n.base >= p || n.base <= -p) {
		if n.base > 0 {
			n.i++
		} else {
			n.i--
		}
		n.base = 0
	}

	for n.exp > 0 && n.base%10 == 0 {
		n.base /= 10
		n.exp--
	}
}

func (n *FixedNumber) initFromString(s string) {
	dot := strings.IndexByte(s, '.')
	var exp int64
	if dot >= 0 {
		exp = int64(len(s)-dot) - 1
	} else {
		exp = -1
	}
	n.exp = exp

	if exp >= 0 {
		intPart, fracPart := scanIntDotInt(s)
		if strings.HasPrefix(s, "-") {
			fracPart = -fracPart
		}
		n.i = intPart
		n.base = fracPart
		n.double = float64(n.i) + float64(n.base)/float64(Pow10(n.exp))
	} else {
		n.i = scanInt(s)
		n.base = 0
		n.double = float64(n.i)
	}
}

// scanIntDotInt mimics C's sscanf("%ld.%ld", &i, &f): leading sign and
// digits before the dot, plain digits after it (never signed).
func scanIntDotInt(s string) (intPart, fracPart int64) {
	i := 0
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if digits := s[start:i]; digits != "" {
		v, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			panic(fmt.Sprintf("fixedpoint: integer overflow parsing %q: %v", s, err))
		}
		intPart = v
	}
	if neg {
		intPart = -intPart
	}
	if i < len(s) && s[i] == '.' {
		i++
	}
	fstart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if digits := s[fstart:i]; digits != "" {
		v, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			panic(fmt.Sprintf("fixedpoint: integer overflow parsing %q: %v", s, err))
		}
		fracPart = v
	}
	return intPart, fracPart
}

func scanInt(s string) int64 {
	i := 0
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	var v int64
	if digits := s[start:i]; digits != "" {
		parsed, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			panic(fmt.Sprintf("fixedpoint: integer overflow parsing %q: %v", s, err))
		}
		v = parsed
	}
	if neg {
		v = -v
	}
	return v
}

// SetAccuracy rescales the base to the given number of fractional digits.
func (n FixedNumber) SetAccuracy(accuracy int) FixedNumber {
	acc := int64(accuracy)
	switch {
	case n.exp < 0:
		n.base = 0
		n.exp = acc
	case acc < 0:
		n.base = 0
		n.exp = acc
	case acc < n.exp:
		n.base /= Pow10(n.exp - acc)
		n.exp = acc
	case acc > n.exp:
		n.base *= Pow10(acc - n.exp)
		n.exp = acc
	}
	return n
}

// Float64 returns the cached double-precision approximation captured at
// construction time (not recomputed from int/base/exp).
func (n FixedNumber) Float64() float64 { return n.double }

// String renders the canonical "int.base" form, zero-padded to exp digits.
func (n FixedNumber) String() string {
	if n.exp >= 0 {
		b := n.base
		sign := ""
		if b < 0 {
			b = -b
			if n.i == 0 {
				sign = "-"
			}
		}
		return fmt.Sprintf("%s%d.%0*d", sign, n.i, n.exp, b)
	}
	return strconv.FormatInt(n.i, 10)
}

// Decimal converts to shopspring/decimal for JSON encoding and display.
func (n FixedNumber) Decimal() decimal.Decimal {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.NewFromFloat(n.double)
	}
	return d
}

// MarshalJSON encodes as a JSON string carrying the canonical decimal form.
func (n FixedNumber) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string (or bare number) into a FixedNumber.
func (n *FixedNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	n.initFromString(s)
	return nil
}

// Neg returns the additive inverse.
func (n FixedNumber) Neg() FixedNumber {
	return FixedNumber{double: -n.double, i: -n.i, base: -n.base, exp: n.exp}
}

// Add returns n + op, exact per the invariants in package doc.
func (n FixedNumber) Add(op FixedNumber) FixedNumber {
	exp := n.exp
	if op.exp > exp {
		exp = op.exp
	}

	result := n.i + op.i
	base := n.base*Pow10(exp-n.exp) + op.base*Pow10(exp-op.exp)

	result, base = normalizeCarry(result, base, exp)

	return FixedNumber{double: n.double + op.double, i: result, base: base, exp: exp}
}

// Sub returns n - op.
func (n FixedNumber) Sub(op FixedNumber) FixedNumber {
	exp := n.exp
	if op.exp > exp {
		exp = op.exp
	}

	result := n.i - op.i
	base := n.base*Pow10(exp-n.exp) - op.base*Pow10(exp-op.exp)

	result, base = normalizeCarry(result, base, exp)

	return FixedNumber{double: n.double - op.double, i: result, base: base, exp: exp}
}

// normalizeCarry restores 0 <= |base| < 10^exp and sign-consistency after
// a +/- whose base may have overflowed or crossed zero.
func normalizeCarry(i, base, exp int64) (int64, int64) {
	p := Pow10(exp)
	switch {
	case base <= -p && base < 0:
		i--
		base += p
	case i > 0 && base < 0:
		i--
		base += p
	case base >= p && base > 0:
		i++
		base -= p
	case i < 0 && base > 0:
		i++
		base -= p
	}
	return i, base
}

// Mul returns the exact product n*op.
func (n FixedNumber) Mul(op FixedNumber) FixedNumber {
	resI := n.i * op.i
	resBase := n.i*op.base*Pow10(n.exp) + op.i*n.base*Pow10(op.exp) + n.base*op.base
	resExp := n.exp + op.exp
	if resExp < 0 {
		resExp = -1
	}
	divisor := int64(1)
	if resExp >= 0 {
		divisor = Pow10(resExp)
	}
	resI += resBase / divisor
	resBase %= divisor

	return FixedNumber{double: n.double * op.double, i: resI, base: resBase, exp: resExp}
}

// Div returns n/op, rounded to the nearest representable value at n's
// accuracy.
func (n FixedNumber) Div(op FixedNumber) FixedNumber {
	exp1 := n.exp
	if exp1 < 0 {
		exp1 = 0
	}
	exp2 := op.exp
	if exp2 < 0 {
		exp2 = 0
	}
	mine := n.i*Pow10(exp1+exp2) + n.base*Pow10(exp2)
	theirs := op.i*Pow10(exp2) + op.base
	result := (mine + (theirs >> 1)) / theirs

	div := Pow10(exp1)
	quot := result / div
	rem := result % div

	var dv float64
	if op.double != 0 {
		dv = n.double / op.double
	}
	return FixedNumber{double: dv, i: quot, base: rem, exp: exp1}
}

// crossCompare returns the base values scaled to a common exponent, as
// the original comparison operators do (exponent of the larger operand
// wins, the other side's base is scaled up to match).
func crossCompare(a, b FixedNumber) (int64, int64) {
	if b.exp > a.exp {
		diff := b.exp - a.exp
		return a.base * Pow10(diff), b.base
	}
	diff := a.exp - b.exp
	return a.base, b.base * Pow10(diff)
}

// Less reports whether n < op.
func (n FixedNumber) Less(op FixedNumber) bool {
	n1, n2 := crossCompare(n, op)
	return n.i < op.i || (n.i == op.i && n1 < n2)
}

// Greater reports whether n > op.
func (n FixedNumber) Greater(op FixedNumber) bool {
	n1, n2 := crossCompare(n, op)
	return n.i > op.i || (n.i == op.i && n1 > n2)
}

// Equal reports whether n == op, consistent with Add/Sub: a==b iff
// a.Sub(b) is zero.
func (n FixedNumber) Equal(op FixedNumber) bool {
	n1, n2 := crossCompare(n, op)
	return n.i == op.i && n1 == n2
}

// IsZero reports whether n represents exactly zero.
func (n FixedNumber) IsZero() bool {
	return n.i == 0 && n.base == 0
}

// Sign returns -1, 0, or 1.
func (n FixedNumber) Sign() int {
	switch {
	case n.i > 0 || (n.i == 0 && n.base > 0):
		return 1
	case n.i < 0 || (n.i == 0 && n.base < 0):
		return -1
	default:
		return 0
	}
}
