package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "j****@example.com", MaskEmail("jane@example.com"))
	assert.Equal(t, "", MaskEmail("  "))
	assert.Equal(t, "****", MaskEmail("@x"))
}

func TestMaskResult(t *testing.T) {
	in := map[string]any{
		"to":       []string{"ops@example.com", "C0123456789"},
		"subject":  "Low approval rate",
		"delivery": map[string]any{"email": "a@b.io", "id": "d1"},
	}
	out := MaskResult(in)

	assert.Equal(t, []any{"o****@example.com", "****6789"}, out["to"])
	assert.Equal(t, "Low approval rate", out["subject"])
	assert.Equal(t, map[string]any{"email": "a****@b.io", "id": "d1"}, out["delivery"])
	assert.Nil(t, MaskResult(nil))
}
