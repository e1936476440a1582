package store

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestEventDetail(t *testing.T) {
	assert.Equal(t, "short", eventDetail("short"))
	assert.Equal(t, "", eventDetail(""))

	// 499 ASCII bytes followed by multibyte runes puts a byte cut mid-rune.
	long := strings.Repeat("a", 499) + strings.Repeat("é", 10)
	got := eventDetail(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 500, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "aé"))

	assert.True(t, utf8.ValidString(eventDetail("bad \xff byte")))
}
