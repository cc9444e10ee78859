package bitpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackLeftJustifies(t *testing.T) {
	assert.Equal(t, Word(0xAB000000), Pack(0xAB))
	assert.Equal(t, Word(0xABCD0000), Pack(0xAB, 0xCD))
	assert.Equal(t, Word(0xABCDEF00), Pack(0xAB, 0xCD, 0xEF))
	assert.Equal(t, Word(0xABCDEF12), Pack(0xAB, 0xCD, 0xEF, 0x12))
}

func TestUUnsigned(t *testing.T) {
	cases := []struct {
		bytes []byte
		n     int
		want  uint32
	}{
		{[]byte{0xFF}, 8, 0xFF},
		{[]byte{0x80}, 1, 1},
		{[]byte{0x7F}, 1, 0},
		{[]byte{0xFF, 0xFF}, 16, 0xFFFF},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF}, 32, 0xFFFFFFFF},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Pack(c.bytes...).U(c.n))
	}
}

func TestSSignExtends(t *testing.T) {
	// 0x80 as an 8-bit signed field is -128.
	assert.Equal(t, int32(-128), Pack(0x80).S(8))
	// 0x7F as an 8-bit signed field is +127.
	assert.Equal(t, int32(127), Pack(0x7F).S(8))
	// most negative 22-bit value: sign bit set, all other bits zero.
	w := Pack(0x80, 0x00, 0x00)
	assert.Equal(t, int32(-1<<21), w.S(22))
	// a positive 22-bit field.
	w = Pack(0x02, 0x00, 0x00)
	assert.Equal(t, int32(1<<15), w.S(22))
}

func TestSRoundTripsWithStdlibInt8(t *testing.T) {
	for v := -128; v <= 127; v++ {
		got := Pack(byte(int8(v))).S(8)
		assert.Equal(t, int32(int8(v)), got)
	}
}
