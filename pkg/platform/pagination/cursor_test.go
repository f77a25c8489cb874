package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC), ID: "b"}
	got, err := Decode(c.Encode())
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "b", got.ID)

	empty, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = Decode("%%%")
	assert.Error(t, err)
}

func TestCursorAfter(t *testing.T) {
	at := time.Now()
	c := &Cursor{CreatedAt: at, ID: "m"}

	assert.True(t, c.After(at.Add(-time.Second), "z"))
	assert.False(t, c.After(at.Add(time.Second), "a"))
	assert.True(t, c.After(at, "a"))
	assert.False(t, c.After(at, "z"))
	assert.True(t, (*Cursor)(nil).After(at, "z"))
}

func TestTrim(t *testing.T) {
	items := []int{5, 4, 3}
	key := func(i int) Cursor { return Cursor{CreatedAt: time.Unix(int64(i), 0), ID: "x"} }

	page, next, more := Trim(items, 2, key)
	assert.Equal(t, []int{5, 4}, page)
	assert.True(t, more)
	assert.NotEmpty(t, next)

	page, next, more = Trim(items, 3, key)
	assert.Len(t, page, 3)
	assert.False(t, more)
	assert.Empty(t, next)
}
