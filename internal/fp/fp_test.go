package fp

import "testing"

func TestArithmetic(t *testing.T) {
	a := FromFloat(1.00000001)
	b := FromFloat(2.00000002)
	if got := a.Add(b).String(); got != "3.00000003" {
		t.Fatalf("Add: got %s", got)
	}
	if got := b.Sub(a).String(); got != "1.00000001" {
		t.Fatalf("Sub: got %s", got)
	}
}

func TestMulDivRounding(t *testing.T) {
	a := FromFloat(1.0 / 3.0)
	if a.String() != "0.33333333" {
		t.Fatalf("FromFloat rounding: got %s", a.String())
	}
	c := FromInt(10).Div(FromInt(3))
	if c.String() != "3.33333333" {
		t.Fatalf("Div rounding: got %s", c.String())
	}
}

func TestMax0Clamp(t *testing.T) {
	neg := FromFloat(-5)
	if !Max0(neg).IsZero() {
		t.Fatalf("Max0 should clamp negative to zero, got %s", Max0(neg).String())
	}
	pos := FromFloat(5)
	if Max0(pos).String() != "5" {
		t.Fatalf("Max0 should pass through positive, got %s", Max0(pos).String())
	}
}

func TestClampBounds(t *testing.T) {
	lo, hi := FromInt(0), FromInt(100)
	if got := Clamp(FromInt(-10), lo, hi); !got.Equal(lo) {
		t.Fatalf("Clamp low: got %s", got)
	}
	if got := Clamp(FromInt(200), lo, hi); !got.Equal(hi) {
		t.Fatalf("Clamp high: got %s", got)
	}
	if got := Clamp(FromInt(50), lo, hi); !got.Equal(FromInt(50)) {
		t.Fatalf("Clamp mid: got %s", got)
	}
}

func TestDivByZero(t *testing.T) {
	if !FromInt(5).Div(Zero).IsZero() {
		t.Fatalf("Div by zero should return Zero")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a := FromFloat(123.456789012)
	b, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var out Fp
	if err := out.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !out.Equal(a.Round8()) {
		t.Fatalf("round-trip mismatch: got %s want %s", out, a.Round8())
	}
}
