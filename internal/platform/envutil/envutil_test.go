package envutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDuration(t *testing.T) {
	t.Setenv("CHATCORE_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, Duration("CHATCORE_TEST_DUR", time.Second))

	t.Setenv("CHATCORE_TEST_DUR", "15")
	assert.Equal(t, 15*time.Second, Duration("CHATCORE_TEST_DUR", time.Second))

	t.Setenv("CHATCORE_TEST_DUR", "garbage")
	assert.Equal(t, time.Second, Duration("CHATCORE_TEST_DUR", time.Second))
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("CHATCORE_TEST_BOOL", "off")
	assert.False(t, Bool("CHATCORE_TEST_BOOL", true))
	t.Setenv("CHATCORE_TEST_INT", "x")
	assert.Equal(t, 7, Int("CHATCORE_TEST_INT", 7))
}

func TestList(t *testing.T) {
	t.Setenv("CHATCORE_TEST_LIST", " free , ,pro")
	assert.Equal(t, []string{"free", "pro"}, List("CHATCORE_TEST_LIST"))
	t.Setenv("CHATCORE_TEST_LIST", "")
	assert.Nil(t, List("CHATCORE_TEST_LIST"))
}
