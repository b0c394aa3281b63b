package codec

// digitWidth returns W, the number of base-`base` digits every input byte
// expands to: ceil(log_base(256)) digits to cover 0..255, plus one extra
// leading guard digit that is always zero.
func digitWidth(base int) int {
	w := 0
	n := 1
	for n < 256 {
		n *= base
		w++
	}
	return w + 1
}

// byteToDigits expresses b as a big-endian base-`base` numeral, left-padded
// with zeros to width digitWidth(base). The leftmost (extra) digit is always
// zero, the guard digit that absorbs the encoder's initial random emission.
func byteToDigits(b byte, base, width int) []int {
	digits := make([]int, width)
	v := int(b)
	for i := width - 1; i >= 0; i-- {
		digits[i] = v % base
		v /= base
	}
	return digits
}

// digitsToBytes is the inverse of byteToDigits applied chunk-wise: it
// requires len(digits) % width == 0 and reconstructs one byte per chunk.
// A digit outside [0, base) or a chunk summing past 255 indicates a
// corrupted stream.
func digitsToBytes(digits []int, base, width int) ([]byte, error) {
	if len(digits)%width != 0 {
		return nil, ErrTruncated
	}
	out := make([]byte, len(digits)/width)
	for chunk := 0; chunk < len(out); chunk++ {
		value := 0
		for i := 0; i < width; i++ {
			d := digits[chunk*width+i]
			if d < 0 || d >= base {
				return nil, &BadDigit{Err: ErrOverflow, Value: d}
			}
			value = value*base + d
		}
		if value > 255 {
			return nil, &BadDigit{Err: ErrOverflow, Value: value}
		}
		out[chunk] = byte(value)
	}
	return out, nil
}
