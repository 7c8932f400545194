package blobstore

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Filter selects the leaves to download by object name.
type Filter func(name string) bool

// SuffixFilter matches object names ending in one of the suffixes.
func SuffixFilter(suffixes ...string) Filter {
	return func(name string) bool {
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				return true
			}
		}
		return false
	}
}

// Download copies every leaf under prefix that passes filter into destDir,
// keeping the layout relative to prefix. It returns the number of files
// written.
func Download(ctx context.Context, fs afero.Fs, bucket Bucket, prefix, destDir string, filter Filter) (int, error) {
	d := downloader{fs: fs, bucket: bucket, root: prefix, destDir: destDir, filter: filter}
	if err := d.descend(ctx, prefix); err != nil {
		return d.count, err
	}
	return d.count, nil
}

type downloader struct {
	fs      afero.Fs
	bucket  Bucket
	root    string
	destDir string
	filter  Filter
	count   int
}

func (d *downloader) descend(ctx context.Context, prefix string) error {
	pageToken := ""
	for {
		page, err := d.bucket.ListPage(ctx, prefix, pageToken)
		if err != nil {
			return err
		}
		for _, entry := range page.Entries {
			switch entry := entry.(type) {
			case Container:
				if err := d.descend(ctx, entry.Prefix); err != nil {
					return err
				}
			case Leaf:
				if d.filter != nil && !d.filter(entry.Name) {
					continue
				}
				if err := d.download(ctx, entry); err != nil {
					return err
				}
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (d *downloader) download(ctx context.Context, leaf Leaf) error {
	relative := path.Clean(strings.TrimPrefix(leaf.Name, d.root))
	if relative == "." || strings.HasPrefix(relative, "../") || path.IsAbs(relative) {
		return fmt.Errorf("refusing to download %s outside of %s", leaf.Name, d.destDir)
	}
	target := filepath.Join(d.destDir, filepath.FromSlash(relative))
	if err := d.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("could not create directory for %s: %w", target, err)
	}
	f, err := d.fs.Create(target)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", target, err)
	}
	if err := d.bucket.Download(ctx, leaf.Name, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not write %s: %w", target, err)
	}
	logrus.WithField("object", leaf.Name).Debugf("Downloaded to %s.", target)
	d.count++
	return nil
}
