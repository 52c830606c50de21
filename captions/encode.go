package captions

import "math/bits"

// Miscellaneous control codes of caption channel 1: the first byte and
// the command in the second byte.
const (
	ctrlMisc = 0x14
	cmdRCL   = 0x20 // resume caption loading
	cmdEDM   = 0x2C // erase displayed memory
	cmdEOC   = 0x2F // end of caption
)

// WithParity sets bit 7 of a 7-bit value so the byte has odd parity.
func WithParity(b byte) byte {
	b &= 0x7F
	if bits.OnesCount8(b)&1 == 0 {
		b |= 0x80
	}
	return b
}

// PopOn returns the byte pairs that present text as a pop-on caption on
// channel 1: resume caption loading, the characters two per pair, end of
// caption. Control pairs are sent twice as broadcast encoders do. Bytes
// carry odd parity; characters outside the printable ASCII range are
// replaced by spaces.
func PopOn(text string) [][2]byte {
	ctrl := func(cc1, cc2 byte) [2]byte { return [2]byte{WithParity(cc1), WithParity(cc2)} }
	pairs := [][2]byte{ctrl(ctrlMisc, cmdRCL), ctrl(ctrlMisc, cmdRCL)}

	chars := make([]byte, 0, len(text)+1)
	for _, r := range text {
		if r < 0x20 || r > 0x7E {
			r = ' '
		}
		chars = append(chars, byte(r))
	}
	if len(chars)%2 == 1 {
		chars = append(chars, 0)
	}
	for i := 0; i < len(chars); i += 2 {
		pairs = append(pairs, [2]byte{WithParity(chars[i]), WithParity(chars[i+1])})
	}
	return append(pairs, ctrl(ctrlMisc, cmdEOC), ctrl(ctrlMisc, cmdEOC))
}

// Clear returns the pairs that erase the displayed caption on channel 1.
func Clear() [][2]byte {
	p := [2]byte{WithParity(ctrlMisc), WithParity(cmdEDM)}
	return [][2]byte{p, p}
}

// Padding is the null pair sent when no caption data is pending.
var Padding = [2]byte{0x80, 0x80}
