package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedReaders(t *testing.T) {
	t.Setenv("ENV_TEST_STRING", "  value  ")
	t.Setenv("ENV_TEST_INT", "42")
	t.Setenv("ENV_TEST_BAD_INT", "-3")
	t.Setenv("ENV_TEST_FRACTION", "0")
	t.Setenv("ENV_TEST_BAD_FRACTION", "1.5")
	t.Setenv("ENV_TEST_MILLIS", "250")
	t.Setenv("ENV_TEST_CSV", "a, b,,a ,c")

	assert.Equal(t, "value", String("ENV_TEST_STRING", "x"))
	assert.Equal(t, "x", String("ENV_TEST_MISSING", "x"))
	assert.Equal(t, 42, Int("ENV_TEST_INT", 1))
	assert.Equal(t, 1, Int("ENV_TEST_BAD_INT", 1))
	assert.Equal(t, 0.0, Fraction("ENV_TEST_FRACTION", 0.2))
	assert.Equal(t, 0.2, Fraction("ENV_TEST_BAD_FRACTION", 0.2))
	assert.Equal(t, 250*time.Millisecond, Millis("ENV_TEST_MILLIS", time.Second))
	assert.Equal(t, time.Second, Millis("ENV_TEST_MISSING", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, CSV("ENV_TEST_CSV", nil))
	assert.Equal(t, []string{"d"}, CSV("ENV_TEST_MISSING", []string{"d"}))
}

func TestLoadFileKeepsEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ENV_FILE_ONLY: from-file\nENV_FILE_SHADOWED: from-file\n"), 0o600))
	t.Setenv("ENV_FILE_SHADOWED", "from-env")

	require.NoError(t, LoadFile(path))
	assert.Equal(t, "from-file", String("ENV_FILE_ONLY", ""))
	assert.Equal(t, "from-env", String("ENV_FILE_SHADOWED", ""))
	assert.NoError(t, LoadFile(""))
}
