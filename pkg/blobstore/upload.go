package blobstore

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Uploader publishes a local payload, a directory or an archive, and returns
// the URI the queue fetches it from.
type Uploader interface {
	UploadPayload(ctx context.Context, localPath string) (string, error)
}

// ArchiveEntry is one file of an archive: Name is the slash separated path
// inside the archive, Path the file on disk.
type ArchiveEntry struct {
	Name string
	Path string
}

// fixed so identical inputs produce byte-identical archives
var archiveTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteArchive writes a zip archive of entries, in name order.
func WriteArchive(w io.Writer, entries []ArchiveEntry) error {
	sorted := make([]ArchiveEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	archive := zip.NewWriter(w)
	for _, entry := range sorted {
		if err := addToArchive(archive, entry); err != nil {
			_ = archive.Close()
			return err
		}
	}
	return archive.Close()
}

func addToArchive(archive *zip.Writer, entry ArchiveEntry) error {
	in, err := os.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", entry.Path, err)
	}
	defer in.Close()
	out, err := archive.CreateHeader(&zip.FileHeader{Name: entry.Name, Method: zip.Deflate, Modified: archiveTime})
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("could not archive %s: %w", entry.Path, err)
	}
	return nil
}

// DirectoryEntries lists every file under dir as archive entries relative to
// dir.
func DirectoryEntries(dir string) ([]ArchiveEntry, error) {
	var entries []ArchiveEntry
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entries = append(entries, ArchiveEntry{Name: filepath.ToSlash(relative), Path: p})
		return nil
	})
	return entries, err
}

// PayloadUploader stores payloads in a bucket under a name derived from
// their content, so a payload that did not change is not uploaded again.
type PayloadUploader struct {
	Bucket Bucket
	Prefix string
}

func (u *PayloadUploader) UploadPayload(ctx context.Context, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("could not stat payload: %w", err)
	}

	var content []byte
	if info.IsDir() {
		entries, err := DirectoryEntries(localPath)
		if err != nil {
			return "", fmt.Errorf("could not list payload directory %s: %w", localPath, err)
		}
		buf := &bytes.Buffer{}
		if err := WriteArchive(buf, entries); err != nil {
			return "", err
		}
		content = buf.Bytes()
	} else {
		if content, err = os.ReadFile(localPath); err != nil {
			return "", fmt.Errorf("could not read payload: %w", err)
		}
	}

	sum := sha256.Sum256(content)
	name := path.Join(u.Prefix, hex.EncodeToString(sum[:])+".zip")
	logger := logrus.WithFields(logrus.Fields{"payload": localPath, "object": name})
	exists, err := u.Bucket.Exists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("could not check for existing payload %s: %w", name, err)
	}
	if exists {
		logger.Debug("Payload unchanged, not uploading it again.")
	} else {
		logger.Debugf("Uploading %d bytes.", len(content))
		if err := u.Bucket.Upload(ctx, name, bytes.NewReader(content)); err != nil {
			return "", err
		}
	}
	return ObjectURI(u.Bucket.Name(), name), nil
}
