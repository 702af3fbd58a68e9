package record

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueKindRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want Kind
	}{
		{"bool", Bool(true), KindBool},
		{"digit", Digit(42), KindDigit},
		{"float", Float(3.5), KindFloat},
		{"chars", Chars("hi"), KindChars},
		{"bytes", Bytes([]byte("hi")), KindBytes},
		{"ignore", Ignore, KindIgnore},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.v.Kind())
		})
	}
}

func TestValueAsChars(t *testing.T) {
	s, ok := Digit(7).AsChars()
	require.True(t, ok)
	assert.Equal(t, "7", s)

	s, ok = Bool(true).AsChars()
	require.True(t, ok)
	assert.Equal(t, "true", s)

	_, ok = Array([]Value{Digit(1)}).AsChars()
	assert.False(t, ok)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, Digit(5).Equal(Digit(5)))
	assert.False(t, Digit(5).Equal(Digit(6)))
	assert.False(t, Digit(5).Equal(Chars("5")))

	ip1 := IPAddr(net.ParseIP("10.0.0.1"))
	ip2 := IPAddr(net.ParseIP("10.0.0.1"))
	assert.True(t, ip1.Equal(ip2))

	assert.True(t, Ignore.Equal(Ignore))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "<ignore>", Ignore.String())
	assert.Equal(t, "42", Digit(42).String())
	ts := Time(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Contains(t, ts.String(), "2026-01-02")
}
