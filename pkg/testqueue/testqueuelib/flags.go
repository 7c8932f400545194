package testqueuelib

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"k8s.io/utils/clock"

	"github.com/openshift/test-queue-runner/pkg/blobstore"
	"github.com/openshift/test-queue-runner/pkg/helix"
	"github.com/openshift/test-queue-runner/pkg/testqueue/ledger"
)

type ConfigFlags struct {
	ConfigFile string
}

func NewConfigFlags() *ConfigFlags {
	return &ConfigFlags{}
}

func (f *ConfigFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigFile, "config", f.ConfigFile, "Optional YAML file with the queue defaults, the partitioned assemblies and the runner location.")
}

func (f *ConfigFlags) Load() (*Config, error) {
	return LoadConfig(f.ConfigFile)
}

// DataFlags locate the run ledger.
type DataFlags struct {
	DataDirectory string
}

func NewDataFlags() *DataFlags {
	return &DataFlags{}
}

func (f *DataFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.DataDirectory, "data-dir", f.DataDirectory, "The directory holding the runs, defaults to $XDG_DATA_HOME/test-queue-runner.")
}

func (f *DataFlags) NewLedger() (*ledger.Ledger, error) {
	dir := f.DataDirectory
	if len(dir) == 0 {
		var err error
		if dir, err = ledger.DefaultDataDirectory(); err != nil {
			return nil, err
		}
	}
	return ledger.New(afero.NewOsFs(), dir, clock.RealClock{}), nil
}

const accessTokenEnv = "HELIX_ACCESS_TOKEN"

// HelixFlags configure the job execution service client.
type HelixFlags struct {
	BaseURL         string
	AccessTokenFile string
	SubmitRetries   int
}

func NewHelixFlags() *HelixFlags {
	return &HelixFlags{
		BaseURL:       "https://helix.dot.net",
		SubmitRetries: 5,
	}
}

func (f *HelixFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.BaseURL, "helix-url", f.BaseURL, "The base URL of the job execution service.")
	fs.StringVar(&f.AccessTokenFile, "helix-token-file", f.AccessTokenFile, fmt.Sprintf("Optional file holding the access token, $%s is used otherwise. Open queues can be used anonymously.", accessTokenEnv))
	fs.IntVar(&f.SubmitRetries, "submit-retries", f.SubmitRetries, "Number of retries of a failed job submission.")
}

func (f *HelixFlags) Validate() error {
	if len(f.BaseURL) == 0 {
		return fmt.Errorf("missing --helix-url")
	}
	if f.SubmitRetries < 0 {
		return fmt.Errorf("--submit-retries must not be negative")
	}
	return nil
}

func (f *HelixFlags) accessToken() (string, error) {
	if len(f.AccessTokenFile) == 0 {
		return os.Getenv(accessTokenEnv), nil
	}
	raw, err := os.ReadFile(f.AccessTokenFile)
	if err != nil {
		return "", fmt.Errorf("could not read access token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// NewClient builds a client; uploader may be nil for commands that never
// submit.
func (f *HelixFlags) NewClient(uploader blobstore.Uploader) (helix.Client, error) {
	token, err := f.accessToken()
	if err != nil {
		return nil, err
	}
	return helix.NewClient(helix.ClientOptions{
		BaseURL:       f.BaseURL,
		AccessToken:   token,
		Uploader:      uploader,
		SubmitRetries: f.SubmitRetries,
	}), nil
}

// StorageFlags configure where payloads are uploaded and how results
// containers are read.
type StorageFlags struct {
	PayloadLocation string
	// location of a credential file described by https://cloud.google.com/docs/authentication/production
	GoogleServiceAccountCredentialFile string
}

func NewStorageFlags() *StorageFlags {
	return &StorageFlags{}
}

func (f *StorageFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.PayloadLocation, "payload-location", f.PayloadLocation, "The gs://bucket/prefix work item payloads are uploaded to.")
	fs.StringVar(&f.GoogleServiceAccountCredentialFile, "google-service-account-credential-file", f.GoogleServiceAccountCredentialFile, "location of a credential file described by https://cloud.google.com/docs/authentication/production")
}

func (f *StorageFlags) Validate() error {
	if len(f.PayloadLocation) == 0 {
		return fmt.Errorf("missing --payload-location: like gs://test-payloads/runs")
	}
	if _, err := blobstore.ParseLocation(f.PayloadLocation); err != nil {
		return fmt.Errorf("invalid --payload-location: %w", err)
	}
	return nil
}

func (f *StorageFlags) NewOpener() *blobstore.GCSOpener {
	return &blobstore.GCSOpener{CredentialsFile: f.GoogleServiceAccountCredentialFile}
}

func (f *StorageFlags) NewUploader(ctx context.Context, opener blobstore.Opener) (blobstore.Uploader, error) {
	location, err := blobstore.ParseLocation(f.PayloadLocation)
	if err != nil {
		return nil, err
	}
	bucket, err := opener.Open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("could not open payload bucket: %w", err)
	}
	return &blobstore.PayloadUploader{Bucket: bucket, Prefix: strings.TrimSuffix(location.Prefix, "/")}, nil
}
