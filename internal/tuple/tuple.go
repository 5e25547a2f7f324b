// Package tuple implements the length-free, order-preserving byte encoding
// used for every persistent key and value in the resolver's subspaces.
//
// Strings are escaped the way FoundationDB's tuple layer escapes bytes: a
// 0x00 byte inside the string is escaped as 0x00 0xFF, and the whole string
// is terminated with the two-byte sequence 0x00 0x00. This keeps memcmp order over the
// encoded bytes consistent with lexicographic order over the original
// string, which plain length-prefixing does not guarantee. Unsigned 64-bit
// integers are encoded big-endian, which is trivially order preserving.
package tuple

import "fmt"

const (
	escByte  = 0x00
	escPad   = 0xff
	termByte = 0x00
)

// AppendString appends the order-preserving encoding of s to buf and
// returns the extended slice.
func AppendString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == escByte {
			buf = append(buf, escByte, escPad)

			continue
		}

		buf = append(buf, b)
	}

	return append(buf, escByte, termByte)
}

// ConsumeString decodes a string encoded by [AppendString] from the front of
// buf, returning the decoded string and the remaining bytes.
func ConsumeString(buf []byte) (string, []byte, error) {
	out := make([]byte, 0, len(buf))

	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if b != escByte {
			out = append(out, b)

			continue
		}

		if i+1 >= len(buf) {
			return "", nil, fmt.Errorf("tuple: truncated escape at offset %d", i)
		}

		switch buf[i+1] {
		case escPad:
			out = append(out, escByte)
			i++
		case termByte:
			return string(out), buf[i+2:], nil
		default:
			return "", nil, fmt.Errorf("tuple: invalid escape byte %#x at offset %d", buf[i+1], i)
		}
	}

	return "", nil, fmt.Errorf("tuple: unterminated string")
}

// AppendUint64 appends the big-endian, order-preserving encoding of v to buf.
func AppendUint64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v),
	)
}

// ConsumeUint64 decodes a uint64 encoded by [AppendUint64] from the front of
// buf, returning the value and the remaining bytes.
func ConsumeUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("tuple: need 8 bytes for uint64, have %d", len(buf))
	}

	v := uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
		uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])

	return v, buf[8:], nil
}

// AppendBytes appends the order-preserving encoding of an opaque byte string
// to buf, using the same escaping scheme as [AppendString].
func AppendBytes(buf []byte, b []byte) []byte {
	return AppendString(buf, string(b))
}

// ConsumeBytes decodes bytes encoded by [AppendBytes] from the front of buf.
func ConsumeBytes(buf []byte) ([]byte, []byte, error) {
	s, rest, err := ConsumeString(buf)
	if err != nil {
		return nil, nil, err
	}

	return []byte(s), rest, nil
}

// PrefixRange returns the [lo, hi) range covering every key with the given
// prefix, suitable for a Transaction.ClearRange or range scan.
func PrefixRange(prefix []byte) (lo, hi []byte) {
	lo = append([]byte(nil), prefix...)
	hi = append([]byte(nil), prefix...)

	// Increment the last byte that isn't already 0xff, truncating any
	// trailing 0xff bytes; an all-0xff prefix has no finite successor and
	// the range is treated as open-ended (hi == nil).
	for i := len(hi) - 1; i >= 0; i-- {
		if hi[i] != 0xff {
			hi[i]++
			return lo, hi[:i+1]
		}
	}

	return lo, nil
}
