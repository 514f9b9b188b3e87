package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeaders(t *testing.T) {
	assert.Nil(t, ParseHeaders(""))
	assert.Nil(t, ParseHeaders("novalue=, =x, junk"))
	assert.Equal(t, map[string]string{"api-key": "abc", "x": "a=b"}, ParseHeaders(" api-key = abc ,x=a=b"))
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.1, clampRatio(0))
	assert.Equal(t, 1.0, clampRatio(4))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
