package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

const listPageSize = 1000

type gcsBucket struct {
	name   string
	handle *storage.BucketHandle
}

// NewGCSBucket wraps a bucket of an existing storage client.
func NewGCSBucket(client *storage.Client, name string) Bucket {
	return &gcsBucket{name: name, handle: client.Bucket(name)}
}

func (b *gcsBucket) Name() string {
	return b.name
}

func (b *gcsBucket) ListPage(ctx context.Context, prefix, pageToken string) (*Page, error) {
	query := &storage.Query{Prefix: prefix, Delimiter: "/"}
	// Only retrieve what a listing needs
	if err := query.SetAttrSelection([]string{"Name", "Size"}); err != nil {
		return nil, err
	}
	var attrs []*storage.ObjectAttrs
	next, err := iterator.NewPager(b.handle.Objects(ctx, query), listPageSize, pageToken).NextPage(&attrs)
	if err != nil {
		return nil, fmt.Errorf("could not list gs://%s/%s: %w", b.name, prefix, err)
	}
	page := &Page{NextPageToken: next}
	for _, attr := range attrs {
		// with a delimiter, synthetic directory entries only carry a prefix
		if attr.Prefix != "" {
			page.Entries = append(page.Entries, Container{Prefix: attr.Prefix})
			continue
		}
		page.Entries = append(page.Entries, Leaf{Name: attr.Name, Size: attr.Size})
	}
	return page, nil
}

func (b *gcsBucket) Download(ctx context.Context, name string, w io.Writer) error {
	r, err := b.handle.Object(name).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("could not read gs://%s/%s: %w", b.name, name, err)
	}
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("could not download gs://%s/%s: %w", b.name, name, err)
	}
	return nil
}

func (b *gcsBucket) Upload(ctx context.Context, name string, r io.Reader) error {
	w := b.handle.Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("could not upload gs://%s/%s: %w", b.name, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("could not finish upload of gs://%s/%s: %w", b.name, name, err)
	}
	return nil
}

func (b *gcsBucket) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.handle.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GCSOpener opens buckets with the read token of the container location when
// one is present, and with the configured credentials otherwise. Clients are
// cached per token.
type GCSOpener struct {
	CredentialsFile string

	lock    sync.Mutex
	clients map[string]*storage.Client
}

func (o *GCSOpener) Open(ctx context.Context, location Location) (Bucket, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.clients == nil {
		o.clients = map[string]*storage.Client{}
	}
	client, ok := o.clients[location.Token]
	if !ok {
		var opts []option.ClientOption
		switch {
		case location.Token != "":
			opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: location.Token})))
		case o.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
		}
		var err error
		client, err = storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("could not create storage client: %w", err)
		}
		o.clients[location.Token] = client
	}
	return NewGCSBucket(client, location.Bucket), nil
}

// Close releases every cached client.
func (o *GCSOpener) Close() error {
	o.lock.Lock()
	defer o.lock.Unlock()
	var errs []error
	for token, client := range o.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(o.clients, token)
	}
	return utilerrors.NewAggregate(errs)
}
