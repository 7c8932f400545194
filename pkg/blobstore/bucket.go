// Package blobstore talks to the object storage holding job payloads and
// job results.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Entry is one result of listing a container: either a Leaf or a Container.
type Entry interface {
	isEntry()
}

// Leaf is a blob with content.
type Leaf struct {
	// Name is the full object name inside the bucket.
	Name string
	Size int64
}

// Container is a virtual directory, listed by its prefix ending in "/".
type Container struct {
	Prefix string
}

func (Leaf) isEntry()      {}
func (Container) isEntry() {}

// Page is one page of a listing.
type Page struct {
	Entries []Entry
	// NextPageToken is empty on the last page.
	NextPageToken string
}

// Bucket is the subset of object storage operations this tool needs.
type Bucket interface {
	Name() string
	// ListPage lists the direct children of prefix, starting at pageToken.
	ListPage(ctx context.Context, prefix, pageToken string) (*Page, error)
	Download(ctx context.Context, name string, w io.Writer) error
	Upload(ctx context.Context, name string, r io.Reader) error
	Exists(ctx context.Context, name string) (bool, error)
}

// Opener opens the bucket a container location points to.
type Opener interface {
	Open(ctx context.Context, location Location) (Bucket, error)
}

const scheme = "gs"

// Location is a parsed container URI of the form gs://bucket/prefix?token=...
type Location struct {
	Bucket string
	Prefix string
	// Token is the read credential handed out by the queue, if any.
	Token string
}

func (l Location) String() string {
	u := url.URL{Scheme: scheme, Host: l.Bucket, Path: "/" + l.Prefix}
	if l.Token != "" {
		u.RawQuery = url.Values{"token": []string{l.Token}}.Encode()
	}
	return u.String()
}

// ObjectURI is the location of a single object, without credential.
func ObjectURI(bucket, name string) string {
	return Location{Bucket: bucket, Prefix: name}.String()
}

// ParseLocation parses a container URI. The prefix always ends in "/"
// unless it is empty.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("could not parse container URI %q: %w", raw, err)
	}
	if u.Scheme != scheme {
		return Location{}, fmt.Errorf("container URI %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("container URI %q has no bucket", raw)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return Location{Bucket: u.Host, Prefix: prefix, Token: u.Query().Get("token")}, nil
}
