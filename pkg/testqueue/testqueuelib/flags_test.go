package testqueuelib

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openshift/test-queue-runner/pkg/testhelper"
)

func TestFlagsValidate(t *testing.T) {
	testCases := []struct {
		name     string
		flags    interface{ Validate() error }
		expected error
	}{
		{
			name:  "default helix flags",
			flags: NewHelixFlags(),
		},
		{
			name:     "helix flags without url",
			flags:    &HelixFlags{SubmitRetries: 1},
			expected: errors.New("missing --helix-url"),
		},
		{
			name:     "negative submit retries",
			flags:    &HelixFlags{BaseURL: "https://helix.dot.net", SubmitRetries: -1},
			expected: errors.New("--submit-retries must not be negative"),
		},
		{
			name:  "payload location",
			flags: &StorageFlags{PayloadLocation: "gs://test-payloads/runs"},
		},
		{
			name:     "missing payload location",
			flags:    NewStorageFlags(),
			expected: errors.New("missing --payload-location: like gs://test-payloads/runs"),
		},
		{
			name:     "payload location on another store",
			flags:    &StorageFlags{PayloadLocation: "https://payloads.example.com/runs"},
			expected: errors.New(`invalid --payload-location: container URI "https://payloads.example.com/runs": unsupported scheme "https"`),
		},
		{
			name:  "default log level",
			flags: NewLoggingFlags(),
		},
		{
			name:     "unknown log level",
			flags:    &LoggingFlags{LogLevel: "loud"},
			expected: errors.New(`invalid --log-level: not a valid logrus Level: "loud"`),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.expected, tc.flags.Validate(), testhelper.EquateErrorMessage); diff != "" {
				t.Errorf("unexpected error: %s", diff)
			}
		})
	}
}
