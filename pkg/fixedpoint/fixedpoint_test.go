package fixedpoint

import "testing"

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []string{"0", "5", "-1.23", "0.07", "100.00", "-0.5", "123.456789"}
	for _, s := range cases {
		got := Parse(s).String()
		if got != s {
			t.Errorf("Parse(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestParseNegativeScenario(t *testing.T) {
	t.Parallel()
	n := Parse("-1.23")
	if n.i != -1 || n.base != -23 || n.exp != 2 {
		t.Fatalf("Parse(-1.23) = {i:%d base:%d exp:%d}, want {-1 -23 2}", n.i, n.base, n.exp)
	}
}

func TestAddScenario(t *testing.T) {
	t.Parallel()
	a := Parse("-1.23")
	b := Parse("0.07")
	got := a.Add(b).String()
	if got != "-1.16" {
		t.Fatalf("-1.23 + 0.07 = %q, want -1.16", got)
	}
}

func TestAddThenSubIsIdentity(t *testing.T) {
	t.Parallel()
	cases := []struct{ a, b string }{
		{"1.5", "0.25"},
		{"-3.333", "1.111"},
		{"0", "9.999999"},
		{"100", "-50.5"},
	}
	for _, c := range cases {
		a := Parse(c.a)
		b := Parse(c.b)
		result := a.Add(b).Sub(b)
		if !result.Equal(a) {
			t.Errorf("(%s + %s) - %s = %s, want %s", c.a, c.b, c.b, result.String(), a.String())
		}
	}
}

func TestMulDivApproximatelyIdentity(t *testing.T) {
	t.Parallel()
	a := Parse("12.5")
	b := Parse("4.0")
	result := a.Mul(b).Div(b)
	if !result.Equal(a) {
		t.Errorf("(12.5 * 4) / 4 = %s, want 12.5", result.String())
	}
}

func TestComparisonAgreesWithSubtraction(t *testing.T) {
	t.Parallel()
	a := Parse("1.0")
	b := Parse("1.00")
	if !a.Equal(b) {
		t.Errorf("1.0 should equal 1.00")
	}
	if !a.Sub(b).IsZero() {
		t.Errorf("1.0 - 1.00 should be zero")
	}

	c := Parse("2.5")
	if !a.Less(c) {
		t.Errorf("1.0 should be less than 2.5")
	}
	if !c.Greater(a) {
		t.Errorf("2.5 should be greater than 1.0")
	}
}

func TestPow10OutOfRangeIsFatal(t *testing.T) {
	t.Parallel()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for power10 out of range")
		}
	}()
	Pow10(19)
}

func TestFromIntAndFloat(t *testing.T) {
	t.Parallel()
	if got := FromInt(5, 2).String(); got != "5.00" {
		t.Errorf("FromInt(5,2) = %q, want 5.00", got)
	}
	if got := FromFloat(1.5, 4).String(); got != "1.5" {
		t.Errorf("FromFloat(1.5,4) = %q, want 1.5", got)
	}
}

func TestNegation(t *testing.T) {
	t.Parallel()
	n := Parse("3.14")
	neg := n.Neg()
	if neg.String() != "-3.14" {
		t.Errorf("Neg(3.14) = %q, want -3.14", neg.String())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()
	n := Parse("42.5")
	data, err := n.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	var out FixedNumber
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatal(err)
	}
	if !out.Equal(n) {
		t.Errorf("round trip through JSON changed value: %s != %s", out.String(), n.String())
	}
}
