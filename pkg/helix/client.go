// Package helix is a client of the job execution service that runs work
// items on queues of remote machines.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/openshift/test-queue-runner/pkg/blobstore"
	"github.com/openshift/test-queue-runner/pkg/results"
)

//go:generate mockgen -destination=mock_client.go -package=helix github.com/openshift/test-queue-runner/pkg/helix Client

// Client is the job execution service.
type Client interface {
	Submit(ctx context.Context, job *JobDefinition) (*SentJob, error)
	JobDetails(ctx context.Context, correlationID string) (*JobDetails, error)
	QueueInfo(ctx context.Context, queueID string) (*QueueInfo, error)
	QueueInfoList(ctx context.Context) ([]QueueInfo, error)
}

const apiVersion = "2019-06-17"

// ClientOptions configures the HTTP client.
type ClientOptions struct {
	BaseURL string
	// AccessToken is optional; anonymous access works for open queues.
	AccessToken string
	Uploader    blobstore.Uploader

	// SubmitRetries bounds the retries of a submission. Polls are not
	// retried here, the caller decides on that.
	SubmitRetries int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
}

func NewClient(opts ClientOptions) Client {
	if opts.RetryWaitMin == 0 {
		opts.RetryWaitMin = time.Second
	}
	if opts.RetryWaitMax == 0 {
		opts.RetryWaitMax = 30 * time.Second
	}
	return &client{
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		accessToken: opts.AccessToken,
		uploader:    opts.Uploader,
		submit:      newRetryClient(opts.SubmitRetries, opts),
		poll:        newRetryClient(0, opts),
	}
}

func newRetryClient(retries int, opts ClientOptions) *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = adapter{}
	// hand the last response back so its status can be classified
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return retryClient
}

type client struct {
	baseURL     string
	accessToken string
	uploader    blobstore.Uploader
	submit      *retryablehttp.Client
	poll        *retryablehttp.Client
}

func (c *client) Submit(ctx context.Context, job *JobDefinition) (*SentJob, error) {
	if len(job.WorkItems) == 0 {
		return nil, results.ForReason(results.ReasonPermanentRemote).Errorf("job for queue %s has no work items", job.TargetQueue)
	}
	if c.uploader == nil {
		return nil, errors.New("no payload uploader configured")
	}

	request := jobRequest{
		Type:    job.Type,
		QueueID: job.TargetQueue,
		Source:  job.Source,
		Creator: job.Creator,
	}
	for _, payload := range job.CorrelationPayloads {
		uri, err := c.uploader.UploadPayload(ctx, payload)
		if err != nil {
			return nil, results.ForReason(results.ReasonTransientRemote).WithError(err).Errorf("could not upload correlation payload %s", payload)
		}
		request.CorrelationPayloadURIs = append(request.CorrelationPayloadURIs, uri)
	}
	for _, item := range job.WorkItems {
		uri, err := c.uploader.UploadPayload(ctx, item.PayloadPath)
		if err != nil {
			return nil, results.ForReason(results.ReasonTransientRemote).WithError(err).Errorf("could not upload payload of work item %s", item.Name)
		}
		request.WorkItems = append(request.WorkItems, workItemRequest{
			WorkItemID:     item.Name,
			Command:        item.Command,
			PayloadURI:     uri,
			TimeoutSeconds: int(item.Timeout / time.Second),
		})
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("could not marshal job: %w", err)
	}
	sent := &SentJob{}
	if err := c.do(ctx, c.submit, http.MethodPost, "/jobs", body, sent); err != nil {
		return nil, fmt.Errorf("could not submit job to queue %s: %w", job.TargetQueue, err)
	}
	logrus.WithField("correlation-id", sent.CorrelationID).Debugf("Submitted %d work items to %s.", len(job.WorkItems), job.TargetQueue)
	return sent, nil
}

func (c *client) JobDetails(ctx context.Context, correlationID string) (*JobDetails, error) {
	details := &JobDetails{}
	if err := c.do(ctx, c.poll, http.MethodGet, "/jobs/"+url.PathEscape(correlationID)+"/details", nil, details); err != nil {
		return nil, fmt.Errorf("could not get details of job %s: %w", correlationID, err)
	}
	return details, nil
}

func (c *client) QueueInfo(ctx context.Context, queueID string) (*QueueInfo, error) {
	info := &QueueInfo{}
	if err := c.do(ctx, c.poll, http.MethodGet, "/info/queues/"+url.PathEscape(queueID), nil, info); err != nil {
		return nil, fmt.Errorf("could not get info of queue %s: %w", queueID, err)
	}
	return info, nil
}

func (c *client) QueueInfoList(ctx context.Context) ([]QueueInfo, error) {
	var infos []QueueInfo
	if err := c.do(ctx, c.poll, http.MethodGet, "/info/queues", nil, &infos); err != nil {
		return nil, fmt.Errorf("could not list queues: %w", err)
	}
	return infos, nil
}

func (c *client) do(ctx context.Context, retryClient *retryablehttp.Client, method, path string, body []byte, into interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path+"?api-version="+apiVersion, reader)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "token "+c.accessToken)
	}

	resp, err := retryClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil && resp == nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return results.ForReason(results.ReasonTransientRemote).WithError(err).Errorf("%s %s failed", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var responseBody string
		if data, err := io.ReadAll(resp.Body); err != nil {
			logrus.WithError(err).Warn("Failed to read response body from the job execution service.")
		} else {
			responseBody = strings.TrimSpace(string(data))
		}
		return results.ForReason(reasonForStatus(resp.StatusCode)).Errorf("%s %s: got unexpected http %d status code: %s", method, path, resp.StatusCode, responseBody)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return results.ForReason(results.ReasonPermanentRemote).WithError(err).Errorf("could not parse response of %s %s", method, path)
	}
	return nil
}

func reasonForStatus(code int) results.Reason {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return results.ReasonTransientRemote
	}
	return results.ReasonPermanentRemote
}

type adapter struct{}

func (a adapter) format(s string, i ...interface{}) string {
	builder := strings.Builder{}
	builder.WriteString(s)
	for _, x := range i {
		builder.WriteString(" ")
		builder.WriteString(fmt.Sprintf("%v", x))
	}
	return builder.String()
}

func (a adapter) Error(s string, i ...interface{}) {
	logrus.Error(a.format(s, i...))
}

func (a adapter) Info(s string, i ...interface{}) {
	logrus.Info(a.format(s, i...))
}

func (a adapter) Debug(s string, i ...interface{}) {
	logrus.Debug(a.format(s, i...))
}

func (a adapter) Warn(s string, i ...interface{}) {
	logrus.Warn(a.format(s, i...))
}

var _ retryablehttp.LeveledLogger = adapter{}
