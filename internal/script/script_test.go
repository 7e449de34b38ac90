package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	s := c.For("robert")
	assert.Equal(t, "That's interesting. Tell me more about that.", s.Filler)
	assert.Len(t, s.Lines, 5)
	assert.NotEmpty(t, s.Pool)
}

func TestForMergesOverrides(t *testing.T) {
	c := Default()

	sarah := c.For("sarah")
	assert.Equal(t, c.Default.Filler, sarah.Filler)
	assert.Len(t, sarah.Lines, 3)

	joe := c.For("joe")
	assert.Equal(t, "Ha! Go on, tell me more.", joe.Filler)
	assert.Equal(t, c.Default.Lines, joe.Lines)
}

func TestForReturnsCopies(t *testing.T) {
	c := Default()
	s := c.For("robert")
	s.Lines[0] = "mutated"
	assert.NotEqual(t, "mutated", c.For("robert").Lines[0])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  filler: hm\n  lines: [a, b]\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.For("x").Lines)
}

func TestParseRequiresFiller(t *testing.T) {
	_, err := Parse([]byte("default:\n  lines: [a]\n"))
	assert.Error(t, err)
}
