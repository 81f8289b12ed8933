package audio

import (
	"slices"
)

// bytesToLES16Slice appends the little endian S16 samples in src to dst.
func bytesToLES16Slice(src []byte, dst []int16) []int16 {
	s16len := len(src) / 2
	dst = slices.Grow(dst, s16len)
	for i := 0; i < s16len; i++ {
		dst = append(dst, int16(src[i*2])|(int16(src[i*2+1])<<8))
	}
	return dst
}

// leS16SliceToBytes appends src as little endian S16 samples to dst.
func leS16SliceToBytes(src []int16, dst []byte) []byte {
	dst = slices.Grow(dst, len(src)*2)
	for i := 0; i < len(src); i++ {
		dst = append(dst, byte(src[i]), byte(src[i]>>8))
	}
	return dst
}
