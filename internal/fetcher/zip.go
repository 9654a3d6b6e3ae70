package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// MaxZIPEntrySize bounds the uncompressed size of one archive member.
const MaxZIPEntrySize int64 = 2 << 30

// IsZIP reports whether p names a ZIP archive.
func IsZIP(p string) bool {
	return strings.EqualFold(filepath.Ext(p), ".zip")
}

// ExtractZIP unpacks the data files of a sensor archive into destDir and
// returns their paths in lexical order. Directory entries and archiver
// metadata (__MACOSX, dot files) are skipped. Members already present with
// the same size are left in place so a re-harvest does not rewrite them.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	var out []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || isArchiveMetadata(f.Name) {
			continue
		}
		dest := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(filepath.Clean(dest), root) {
			return out, eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
		}
		if f.UncompressedSize64 > uint64(MaxZIPEntrySize) {
			return out, eris.Errorf("zip: member %q exceeds %d bytes", f.Name, MaxZIPEntrySize)
		}
		if info, err := os.Stat(dest); err == nil && info.Size() == int64(f.UncompressedSize64) {
			out = append(out, dest)
			continue
		}
		if err := writeMember(f, dest); err != nil {
			return out, err
		}
		out = append(out, dest)
	}
	sort.Strings(out)
	return out, nil
}

func isArchiveMetadata(name string) bool {
	for _, part := range strings.Split(path.Clean(name), "/") {
		if part == "__MACOSX" || (strings.HasPrefix(part, ".") && part != "." && part != "..") {
			return true
		}
	}
	return false
}

func writeMember(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrap(err, "zip: create parent directory")
	}
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open member %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	w, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "zip: create file")
	}
	if _, err := io.Copy(w, io.LimitReader(rc, MaxZIPEntrySize)); err != nil {
		w.Close() //nolint:errcheck
		return eris.Wrapf(err, "zip: write %s", dest)
	}
	return eris.Wrap(w.Close(), "zip: close file")
}
