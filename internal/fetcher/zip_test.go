package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_MultiFile(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"a.csv":        "DATE,TEMP\n",
		"nested/b.csv": "DATE,PSAL\n",
	})
	destDir := t.TempDir()

	paths, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	sort.Strings(paths)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(destDir, "a.csv"), paths[0])
	assert.Equal(t, filepath.Join(destDir, "nested", "b.csv"), paths[1])

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "DATE,PSAL\n", string(data))
}

func TestExtractZIP_ZipSlipPrevention(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"../../../etc/passwd": "malicious"})

	_, err := ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIP_InvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := ExtractZIP(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip: open archive")
}

func TestExtractZIP_SkipsArchiverMetadata(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"buoy-1.csv":            "DATE,TEMP\n",
		"__MACOSX/._buoy-1.csv": "resource fork",
		"batch/.DS_Store":       "finder",
		"batch/buoy-2.csv":      "DATE,TEMP\n",
	})
	destDir := t.TempDir()

	paths, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(destDir, "batch", "buoy-2.csv"),
		filepath.Join(destDir, "buoy-1.csv"),
	}, paths)
	assert.NoDirExists(t, filepath.Join(destDir, "__MACOSX"))
}

func TestExtractZIP_KeepsUnchangedMembers(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"buoy-1.csv": "DATE,TEMP\n"})
	destDir := t.TempDir()

	paths, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(paths[0], old, old))

	again, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Equal(t, paths, again)
	info, err := os.Stat(paths[0])
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))
}

func TestIsZIP(t *testing.T) {
	assert.True(t, IsZIP("/data/archive.ZIP"))
	assert.True(t, IsZIP("x.zip"))
	assert.False(t, IsZIP("x.csv"))
}
