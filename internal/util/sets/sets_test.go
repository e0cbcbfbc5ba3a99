package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := New("b", "a")
	assert.True(t, s.Has("a"))
	assert.True(t, s.Add("c"))
	assert.False(t, s.Add("a"))

	c := s.Clone()
	s.Delete("a")
	assert.False(t, s.Has("a"))
	assert.True(t, c.Has("a"))

	assert.Equal(t, []string{"a", "b", "c"}, Sorted(c))
	assert.Empty(t, Sorted(New[string]()))
}
