package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Info holds metadata about an existing archive file.
type Info struct {
	Path      string // Full filesystem path
	Filename  string // Base filename
	Size      int64  // File size in bytes
	Timestamp string // From manifest, or file mod time
	Backend   string // From manifest
	Arrays    int    // From manifest
	Slots     int    // From manifest
}

// List scans dir for archives written by Create and returns info about
// each, newest first.
func List(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "arrays-*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var archives []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		ai := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Timestamp: st.ModTime().Format("2006-01-02 15:04:05"),
		}
		if m, err := readManifest(path); err == nil {
			ai.Timestamp = m.Timestamp
			ai.Backend = m.Backend
			ai.Arrays = m.Arrays
			ai.Slots = m.Slots
		}
		archives = append(archives, ai)
	}

	// File names embed the creation time, so they sort chronologically.
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Filename > archives[j].Filename
	})
	return archives, nil
}

// Latest returns the newest archive in dir, or false if there is none.
func Latest(dir string) (Info, bool, error) {
	archives, err := List(dir)
	if err != nil || len(archives) == 0 {
		return Info{}, false, err
	}
	return archives[0], true, nil
}

// Prune deletes all but the newest retain archives in dir and returns how
// many were removed.
func Prune(dir string, retain int) (int, error) {
	if retain <= 0 {
		return 0, nil
	}
	archives, err := List(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, ai := range archives[min(retain, len(archives)):] {
		if err := os.Remove(ai.Path); err != nil {
			return removed, fmt.Errorf("archive: prune %s: %w", ai.Filename, err)
		}
		removed++
	}
	return removed, nil
}

// readManifest opens a .tar.gz file and extracts the manifest.json entry.
func readManifest(archivePath string) (*Manifest, error) {
	var m *Manifest
	err := walkArchive(archivePath, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if hdr.Name != "manifest.json" {
			return false, nil
		}
		m = new(Manifest)
		return true, json.NewDecoder(r).Decode(m)
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("archive: manifest.json not found in %s", filepath.Base(archivePath))
	}
	return m, nil
}

// walkArchive calls fn for each regular entry until fn reports done.
func walkArchive(archivePath string, fn func(hdr *tar.Header, r io.Reader) (bool, error)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		done, err := fn(hdr, tr)
		if err != nil || done {
			return err
		}
	}
}
