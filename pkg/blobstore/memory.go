package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

// MemoryBucket is an in-process Bucket, used for dry runs and tests.
type MemoryBucket struct {
	BucketName string
	// PageSize bounds every listing page; zero means unbounded.
	PageSize int

	lock    sync.Mutex
	objects map[string][]byte
	uploads int
}

func NewMemoryBucket(name string, objects map[string]string) *MemoryBucket {
	b := &MemoryBucket{BucketName: name, objects: map[string][]byte{}}
	for name, content := range objects {
		b.objects[name] = []byte(content)
	}
	return b
}

func (b *MemoryBucket) Name() string {
	return b.BucketName
}

func (b *MemoryBucket) ListPage(_ context.Context, prefix, pageToken string) (*Page, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	containers := sets.New[string]()
	var entries []Entry
	for _, name := range sets.List(sets.KeySet(b.objects)) {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			child := prefix + rest[:i+1]
			if !containers.Has(child) {
				containers.Insert(child)
				entries = append(entries, Container{Prefix: child})
			}
			continue
		}
		entries = append(entries, Leaf{Name: name, Size: int64(len(b.objects[name]))})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entryKey(entries[i]) < entryKey(entries[j])
	})

	start := 0
	if pageToken != "" {
		var err error
		if start, err = strconv.Atoi(pageToken); err != nil || start > len(entries) {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
	}
	end := len(entries)
	if b.PageSize > 0 && start+b.PageSize < end {
		end = start + b.PageSize
	}
	page := &Page{Entries: entries[start:end]}
	if end < len(entries) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func entryKey(e Entry) string {
	switch e := e.(type) {
	case Leaf:
		return e.Name
	case Container:
		return e.Prefix
	}
	return ""
}

func (b *MemoryBucket) Download(_ context.Context, name string, w io.Writer) error {
	b.lock.Lock()
	content, ok := b.objects[name]
	b.lock.Unlock()
	if !ok {
		return fmt.Errorf("object %s/%s does not exist", b.BucketName, name)
	}
	_, err := io.Copy(w, bytes.NewReader(content))
	return err
}

func (b *MemoryBucket) Upload(_ context.Context, name string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.objects[name] = content
	b.uploads++
	return nil
}

func (b *MemoryBucket) Exists(_ context.Context, name string) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	_, ok := b.objects[name]
	return ok, nil
}

// Uploads is the number of Upload calls so far.
func (b *MemoryBucket) Uploads() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.uploads
}

// Object returns the content of an object.
func (b *MemoryBucket) Object(name string) (string, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	content, ok := b.objects[name]
	return string(content), ok
}

// MemoryOpener hands out the registered MemoryBuckets by name.
type MemoryOpener map[string]*MemoryBucket

func (o MemoryOpener) Open(_ context.Context, location Location) (Bucket, error) {
	bucket, ok := o[location.Bucket]
	if !ok {
		return nil, fmt.Errorf("no bucket %s", location.Bucket)
	}
	return bucket, nil
}
