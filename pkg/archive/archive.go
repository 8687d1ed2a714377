// Package archive bundles the array store into rotating .tar.gz files: a
// portable snapshot of every array, copies of the backend files and the
// config, all listed with checksums in a manifest.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crystal-mush/sparsearray/pkg/snapshot"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// SnapshotEntry is the archive name of the portable snapshot.
const SnapshotEntry = "data/arrays.json.zst"

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Timestamp string               `json:"timestamp"`
	Backend   string               `json:"backend"`
	Arrays    int                  `json:"arrays"`
	Slots     int                  `json:"slots"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "snapshot", "bolt", "sqlite", "conf"
}

// Params holds all inputs needed to create an archive.
type Params struct {
	Registry          *vars.Registry              // Arrays to snapshot (required)
	Backend           string                      // Backend name for the manifest
	BoltSnapshotFunc  func(destPath string) error // Hot copy of the bolt file (nil = skip)
	SQLPath           string                      // SQLite file to copy (empty = skip)
	SQLCheckpointFunc func() error                // Flush the WAL before copying (nil = skip)
	ConfPath          string                      // Config file (empty = skip)
	Dir               string                      // Output directory
	Retain            int                         // Archives to keep after this one; 0 = keep all
}

// Create writes a new archive into params.Dir and returns its path. When
// Retain is set, older archives beyond it are pruned.
func Create(params Params) (string, error) {
	if params.Registry == nil {
		return "", fmt.Errorf("archive: no registry")
	}
	if err := os.MkdirAll(params.Dir, 0755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", params.Dir, err)
	}

	now := time.Now()
	archivePath := filepath.Join(params.Dir, fmt.Sprintf("arrays-%s.tar.gz", now.Format("20060102-150405.000")))

	tmpDir, err := os.MkdirTemp("", "arrays-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	doc, err := snapshot.Capture(params.Registry)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	arrays, slots := params.Registry.Stats()
	manifest := Manifest{
		Version:   1,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Backend:   params.Backend,
		Arrays:    arrays,
		Slots:     slots,
		Files:     make(map[string]FileEntry),
	}

	type staged struct{ src, name, typ string }
	var files []staged

	snapStaged := filepath.Join(tmpDir, "arrays.json.zst")
	if err := snapshot.Write(snapStaged, doc); err != nil {
		return "", fmt.Errorf("archive: snapshot: %w", err)
	}
	files = append(files, staged{snapStaged, SnapshotEntry, "snapshot"})

	if params.BoltSnapshotFunc != nil {
		boltStaged := filepath.Join(tmpDir, "arrays.db")
		if err := params.BoltSnapshotFunc(boltStaged); err != nil {
			return "", fmt.Errorf("archive: bolt snapshot: %w", err)
		}
		files = append(files, staged{boltStaged, "data/arrays.db", "bolt"})
	}

	if params.SQLPath != "" {
		if params.SQLCheckpointFunc != nil {
			if err := params.SQLCheckpointFunc(); err != nil {
				return "", fmt.Errorf("archive: sql checkpoint: %w", err)
			}
		}
		sqlStaged := filepath.Join(tmpDir, "arrays.sqlite")
		if err := copyFile(params.SQLPath, sqlStaged); err != nil {
			return "", fmt.Errorf("archive: copy sql: %w", err)
		}
		files = append(files, staged{sqlStaged, "data/arrays.sqlite", "sqlite"})
	}

	if params.ConfPath != "" {
		if _, err := os.Stat(params.ConfPath); err == nil {
			files = append(files, staged{params.ConfPath, "conf/" + filepath.Base(params.ConfPath), "conf"})
		}
	}

	if err := writeArchive(archivePath, func(tw *tar.Writer) error {
		for _, f := range files {
			entry, err := addFileToTar(tw, f.src, f.name)
			if err != nil {
				return err
			}
			entry.Type = f.typ
			manifest.Files[f.name] = entry
		}
		return addManifest(tw, manifest)
	}); err != nil {
		os.Remove(archivePath)
		return "", err
	}
	log.Printf("archive: wrote %s (%d arrays, %d files)", archivePath, arrays, len(manifest.Files))

	if params.Retain > 0 {
		if _, err := Prune(params.Dir, params.Retain); err != nil {
			log.Printf("archive: prune %s: %v", params.Dir, err)
		}
	}
	return archivePath, nil
}

func writeArchive(path string, fill func(*tar.Writer) error) error {
	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", path, err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)
	if err := fill(tw); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("archive: close gzip: %w", err)
	}
	return outFile.Close()
}

// addManifest writes the manifest as the last entry.
func addManifest(tw *tar.Writer, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    "manifest.json",
		Size:    int64(len(data)),
		Mode:    0644,
		ModTime: time.Now(),
	}); err != nil {
		return fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}
	return nil
}

// addFileToTar adds a single file to the tar archive with the given archive name,
// computing its SHA-256 while writing.
func addFileToTar(tw *tar.Writer, srcPath, archName string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}

	archName = strings.ReplaceAll(archName, "\\", "/")
	if err := tw.WriteHeader(&tar.Header{
		Name:    archName,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", archName, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", archName, err)
	}
	return FileEntry{
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   written,
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
