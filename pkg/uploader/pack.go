package uploader

import (
	"github.com/consciouslab/qrand/pkg/spool"
)

// PackedWord is 32 consecutive bits packed MSB-first into a uint32,
// stamped with the timestamp of the first bit in the word. A trailing
// partial word carries its actual bit count so no bits are lost.
type PackedWord struct {
	Timestamp int64  `json:"timestamp"`
	Word      uint32 `json:"word"`
	Bits      int    `json:"bits"`
}

const wordBits = 32

// packRecords packs bit records into 32-bit words. The first bit of each
// word lands in the most significant position.
func packRecords(records []spool.Record) []PackedWord {
	if len(records) == 0 {
		return nil
	}

	words := make([]PackedWord, 0, (len(records)+wordBits-1)/wordBits)

	for start := 0; start < len(records); start += wordBits {
		end := start + wordBits
		if end > len(records) {
			end = len(records)
		}

		var word uint32
		for i, rec := range records[start:end] {
			if rec.Bit != 0 {
				word |= 1 << (wordBits - 1 - i)
			}
		}

		words = append(words, PackedWord{
			Timestamp: records[start].Timestamp,
			Word:      word,
			Bits:      end - start,
		})
	}

	return words
}
