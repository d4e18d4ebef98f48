//go:build linux

package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPTYLimits_FromProcTree(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sys", "kernel", "pty")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nr"), []byte("37\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "max"), []byte("4096\n"), 0644))

	lim, err := readPTYLimits(root)
	require.NoError(t, err)
	assert.Equal(t, PTYLimits{InUse: 37, Max: 4096}, lim)
}

func TestReadPTYLimits_Malformed(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sys", "kernel", "pty")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nr"), []byte("lots"), 0644))

	_, err := readPTYLimits(root)
	assert.ErrorContains(t, err, "parsing")
}
