package textx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNote(t *testing.T) {
	assert.Equal(t, "gift wrap please", Note(`  <b>gift wrap</b> please<script>alert(1)</script> `))
	assert.Equal(t, "", Note("   "))
	assert.Equal(t, "don't bend", Note("don't bend"))

	long := strings.Repeat("é", MaxNoteLen+10)
	assert.Equal(t, MaxNoteLen, len([]rune(Note(long))))
}
