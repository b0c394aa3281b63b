package codec

import "testing"

func TestDigitWidth(t *testing.T) {
	cases := map[int]int{2: 9, 16: 3, 64: 3, 255: 3, 256: 2}
	for base, want := range cases {
		if got := digitWidth(base); got != want {
			t.Errorf("digitWidth(%d) = %d, want %d", base, got, want)
		}
	}
}

func TestByteToDigitsGuard(t *testing.T) {
	for base := 2; base <= 256; base *= 2 {
		w := digitWidth(base)
		for _, b := range []byte{0, 1, 127, 255} {
			digits := byteToDigits(b, base, w)
			if len(digits) != w {
				t.Fatalf("base %d: len(digits) = %d, want %d", base, len(digits), w)
			}
			if digits[0] != 0 {
				t.Fatalf("base %d byte %d: guard digit = %d, want 0", base, b, digits[0])
			}
			for _, d := range digits {
				if d < 0 || d >= base {
					t.Fatalf("digit %d out of range for base %d", d, base)
				}
			}
		}
	}
}

func TestByteDigitsRoundTrip(t *testing.T) {
	for _, base := range []int{2, 16, 64, 255, 256} {
		w := digitWidth(base)
		var digits []int
		for b := 0; b < 256; b++ {
			digits = append(digits, byteToDigits(byte(b), base, w)...)
		}
		got, err := digitsToBytes(digits, base, w)
		if err != nil {
			t.Fatalf("base %d: digitsToBytes error: %v", base, err)
		}
		if len(got) != 256 {
			t.Fatalf("base %d: got %d bytes, want 256", base, len(got))
		}
		for i, b := range got {
			if int(b) != i {
				t.Fatalf("base %d: byte %d decoded as %d", base, i, b)
			}
		}
	}
}

func TestDigitsToBytesTruncated(t *testing.T) {
	_, err := digitsToBytes([]int{1, 2}, 16, 3)
	if err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDigitsToBytesOverflow(t *testing.T) {
	_, err := digitsToBytes([]int{255, 255, 255}, 16, 3)
	if err == nil {
		t.Fatal("expected overflow error")
	}
}
