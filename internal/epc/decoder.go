// Package epc converts the EPC hex identifiers read off RFID tags into the
// QR code strings the POS registers. Letters A-Z are encoded on the tag as
// two-character hex pairs; digits pass through verbatim and trailing runs of
// F are padding.
package epc

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pairToLetter is the reverse tag encoding table, row-major A0..F0 -> A..F,
// A1..F1 -> G..L, A2..F2 -> M..R, A3..F3 -> S..X, A4,B4 -> Y,Z.
var pairToLetter = map[string]byte{
	"A0": 'A', "B0": 'B', "C0": 'C', "D0": 'D', "E0": 'E', "F0": 'F',
	"A1": 'G', "B1": 'H', "C1": 'I', "D1": 'J', "E1": 'K', "F1": 'L',
	"A2": 'M', "B2": 'N', "C2": 'O', "D2": 'P', "E2": 'Q', "F2": 'R',
	"A3": 'S', "B3": 'T', "C3": 'U', "D3": 'V', "E3": 'W', "F3": 'X',
	"A4": 'Y', "B4": 'Z',
}

const memoSize = 4096

// memo caches recent decodes; the same handful of tags is read over and over
// while an item sits in the antenna field.
var memo = newMemo()

func newMemo() *lru.Cache[string, string] {
	c, err := lru.New[string, string](memoSize)
	if err != nil {
		panic(err)
	}
	return c
}

// Decode converts an EPC hex string to its QR code form. It uppercases the
// input, strips trailing F padding, then scans left to right emitting the
// mapped letter for any table pair and the raw character otherwise. The
// greedy pair rule means a literal hex pair that collides with the table is
// always decoded as a letter; that is the defined behaviour. Empty input
// decodes to the empty string.
func Decode(epc string) string {
	if epc == "" {
		return ""
	}
	if qr, ok := memo.Get(epc); ok {
		return qr
	}
	qr := decode(epc)
	memo.Add(epc, qr)
	return qr
}

func decode(raw string) string {
	s := strings.TrimRight(strings.ToUpper(raw), "F")
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if i+2 <= len(s) {
			if letter, ok := pairToLetter[s[i:i+2]]; ok {
				b.WriteByte(letter)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// Normalize trims surrounding whitespace and uppercases an EPC as received
// from collaborators.
func Normalize(epc string) string {
	return strings.ToUpper(strings.TrimSpace(epc))
}
