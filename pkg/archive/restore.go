package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/crystal-mush/sparsearray/pkg/snapshot"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// Extract copies the entry name out of an archive to dest, checking it
// against the manifest checksum.
func Extract(archivePath, name, dest string) error {
	m, err := readManifest(archivePath)
	if err != nil {
		return fmt.Errorf("archive: %s: %w", filepath.Base(archivePath), err)
	}
	want, ok := m.Files[name]
	if !ok {
		return fmt.Errorf("archive: %s has no entry %s", filepath.Base(archivePath), name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	found := false
	err = walkArchive(archivePath, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if hdr.Name != name {
			return false, nil
		}
		found = true
		out, err := os.Create(dest)
		if err != nil {
			return true, err
		}
		defer out.Close()
		h := sha256.New()
		if _, err := io.Copy(out, io.TeeReader(r, h)); err != nil {
			return true, err
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != want.SHA256 {
			return true, fmt.Errorf("archive: %s checksum mismatch", name)
		}
		return true, out.Close()
	})
	if err != nil {
		os.Remove(dest)
		return err
	}
	if !found {
		return fmt.Errorf("archive: %s listed but missing", name)
	}
	return nil
}

// Restore applies the snapshot held in an archive to reg.
func Restore(archivePath string, reg *vars.Registry) (snapshot.Header, error) {
	tmpDir, err := os.MkdirTemp("", "arrays-restore-*")
	if err != nil {
		return snapshot.Header{}, fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	staged := filepath.Join(tmpDir, "arrays.json.zst")
	if err := Extract(archivePath, SnapshotEntry, staged); err != nil {
		return snapshot.Header{}, err
	}
	doc, err := snapshot.Read(staged)
	if err != nil {
		return snapshot.Header{}, fmt.Errorf("archive: %w", err)
	}
	if err := snapshot.Apply(doc, reg); err != nil {
		return snapshot.Header{}, fmt.Errorf("archive: %w", err)
	}
	log.Printf("archive: restored %d arrays from %s", doc.Header.Arrays, filepath.Base(archivePath))
	return doc.Header, nil
}
