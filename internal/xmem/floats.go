package xmem

import (
	"encoding/binary"
	"math"
)

// FloatSize is the stored width of one sample.
const FloatSize = 4

// ReadFloats fills dst with little-endian float32 values stored at addr.
func ReadFloats(s Store, addr uint32, dst []float32) error {
	buf := make([]byte, len(dst)*FloatSize)
	if err := s.ReadAt(buf, addr); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*FloatSize:]))
	}
	return nil
}

// WriteFloats stores src at addr as little-endian float32 values.
func WriteFloats(s Store, addr uint32, src []float32) error {
	buf := make([]byte, len(src)*FloatSize)
	for i, v := range src {
		binary.LittleEndian.PutUint32(buf[i*FloatSize:], math.Float32bits(v))
	}
	return s.WriteAt(buf, addr)
}
