package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew16HexLength(t *testing.T) {
	id := New16Hex()
	assert.Len(t, id, 16)
}

func TestNew16HexIsLowercaseHex(t *testing.T) {
	id := New16Hex()
	for _, r := range id {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected char %q", r)
	}
}

func TestNew16HexIsUnique(t *testing.T) {
	assert.NotEqual(t, New16Hex(), New16Hex())
}
