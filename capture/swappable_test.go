package capture

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwappable_WritesToCurrentTarget(t *testing.T) {
	var first, second bytes.Buffer
	s := NewSwappable(&first)

	_, err := fmt.Fprint(s, "one")
	require.NoError(t, err)
	assert.Equal(t, "one", first.String())
	assert.Same(t, &first, s.Current())

	prev := s.Swap(&second)
	assert.Same(t, &first, prev)
	assert.Same(t, &second, s.Current())

	_, err = fmt.Fprint(s, "two")
	require.NoError(t, err)
	assert.Equal(t, "one", first.String())
	assert.Equal(t, "two", second.String())
}

func TestSwappable_SwapBackRestores(t *testing.T) {
	var orig, temp bytes.Buffer
	s := NewSwappable(&orig)

	prev := s.Swap(&temp)
	s.Swap(prev)

	_, err := fmt.Fprint(s, "home again")
	require.NoError(t, err)
	assert.Equal(t, "home again", orig.String())
	assert.Empty(t, temp.String())
}
