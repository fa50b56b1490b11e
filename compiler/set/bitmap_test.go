package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmap(t *testing.T) {
	var s Bitmap

	assert.False(t, s.IsSet(3))
	assert.Equal(t, -1, s.First())

	s.Set(3)
	s.Set(70)
	s.Set(200)

	assert.True(t, s.IsSet(3))
	assert.True(t, s.IsSet(70))
	assert.False(t, s.IsSet(71))
	assert.False(t, s.IsSet(-1))
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, 3, s.First())
	assert.Equal(t, []int{3, 70, 200}, s.Slice())
	assert.Equal(t, "{3 70 200}", s.String())

	s.Clear(70)
	s.Clear(1000)

	assert.Equal(t, []int{3, 200}, s.Slice())
}

func TestBitmapOps(t *testing.T) {
	a := MakeBitmap(10)
	a.Set(1)
	a.Set(2)

	b := MakeBitmap(300)
	b.Set(2)
	b.Set(250)

	c := a.Copy()
	c.Or(b)

	assert.Equal(t, []int{1, 2, 250}, c.Slice())
	assert.Equal(t, []int{1, 2}, a.Slice())

	c.AndNot(a)
	assert.Equal(t, []int{250}, c.Slice())

	x := MakeBitmap(1000)
	x.Set(250)

	assert.True(t, c.Equal(x))
	assert.True(t, x.Equal(c))
	assert.False(t, a.Equal(x))

	c.Reset()
	assert.Zero(t, c.Size())
	assert.Equal(t, "{}", c.String())
}
