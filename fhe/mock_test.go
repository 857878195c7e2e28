package fhe

import (
	"testing"

	"pgregory.net/rapid"
)

func mockEncrypt(t *testing.T, m *Mock, typ Type, v uint64) []byte {
	t.Helper()
	ct, err := m.Encrypt(typ, v)
	if err != nil {
		t.Fatalf("Encrypt(%s, %d): %v", typ, v, err)
	}
	return ct
}

func TestMockRoundTrip(t *testing.T) {
	m := NewMock()
	for _, tc := range []struct {
		typ  Type
		in   uint64
		want uint64
	}{
		{Bool, 1, 1},
		{Bool, 2, 0},
		{Uint8, 3, 3},
		{Uint8, 256, 0},
		{Uint16, 1000, 1000},
		{Uint32, 1 << 32, 0},
	} {
		got, err := m.Decrypt(tc.typ, mockEncrypt(t, m, tc.typ, tc.in))
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != tc.want {
			t.Fatalf("%s(%d) = %d, want %d", tc.typ, tc.in, got, tc.want)
		}
	}
}

func TestMockArithmeticWraps(t *testing.T) {
	m := NewMock()
	a := mockEncrypt(t, m, Uint8, 250)
	b := mockEncrypt(t, m, Uint8, 10)

	sum, err := m.Add(Uint8, a, b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if v, _ := m.Decrypt(Uint8, sum); v != 4 {
		t.Fatalf("250+10 = %d, want 4", v)
	}
	diff, err := m.Sub(Uint8, b, a)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if v, _ := m.Decrypt(Uint8, diff); v != 16 {
		t.Fatalf("10-250 = %d, want 16", v)
	}
}

func TestMockSelectAndCast(t *testing.T) {
	m := NewMock()
	a := mockEncrypt(t, m, Uint16, 700)
	b := mockEncrypt(t, m, Uint16, 0)

	for _, cond := range []uint64{0, 1} {
		out, err := m.Select(Uint16, mockEncrypt(t, m, Bool, cond), a, b)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		v, _ := m.Decrypt(Uint16, out)
		want := uint64(0)
		if cond == 1 {
			want = 700
		}
		if v != want {
			t.Fatalf("select(%d) = %d, want %d", cond, v, want)
		}
	}

	wide, err := m.Cast(Uint16, Uint32, a)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if v, _ := m.Decrypt(Uint32, wide); v != 700 {
		t.Fatalf("cast = %d, want 700", v)
	}
	narrow, _ := m.Cast(Uint16, Uint8, a)
	if v, _ := m.Decrypt(Uint8, narrow); v != 700&0xff {
		t.Fatalf("narrow cast = %d, want %d", v, 700&0xff)
	}
}

func TestMockRejectsBadInput(t *testing.T) {
	m := NewMock()
	if _, err := m.Encrypt(Type(9), 1); err != ErrUnknownType {
		t.Fatalf("Encrypt unknown type err = %v, want %v", err, ErrUnknownType)
	}
	if _, err := m.Decrypt(Uint8, []byte{1, 2}); err == nil {
		t.Fatal("expected error for short ciphertext")
	}
}

func TestMockAddMatchesModularSum(t *testing.T) {
	m := NewMock()
	rapid.Check(t, func(rt *rapid.T) {
		typ := rapid.SampledFrom([]Type{Uint8, Uint16, Uint32}).Draw(rt, "type")
		x := rapid.Uint64Range(0, typ.Max()).Draw(rt, "x")
		y := rapid.Uint64Range(0, typ.Max()).Draw(rt, "y")

		a, _ := m.Encrypt(typ, x)
		b, _ := m.Encrypt(typ, y)
		sum, err := m.Add(typ, a, b)
		if err != nil {
			rt.Fatalf("Add: %v", err)
		}
		got, _ := m.Decrypt(typ, sum)
		if want := (x + y) & typ.Max(); got != want {
			rt.Fatalf("%d+%d = %d, want %d", x, y, got, want)
		}
	})
}
