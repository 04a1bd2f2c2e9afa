// Package upload ships a finalized report and its attachments to the
// flakiness service.
//
// The protocol has four strictly ordered phases: start (announce attachment
// ids, receive upload URLs), report transfer (brotli compressed JSON),
// attachment transfer (streamed file bytes) and complete.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/perfgo/flakiness/attachment"
	"github.com/perfgo/flakiness/httpretry"
	"github.com/perfgo/flakiness/model"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultEndpoint    = "https://flakiness.io"
	DefaultMaxParallel = 4

	startPath    = "/api/run/startUpload"
	completePath = "/api/run/completeUpload"

	exchangeTimeout = 10 * time.Second
	transferTimeout = 30 * time.Second
)

// DefaultPolicy is shared by every phase of the upload.
var DefaultPolicy = httpretry.Policy{
	MaxRetries:     5,
	InitialBackoff: 500 * time.Millisecond,
	RetryStatuses:  httpretry.DefaultRetryStatuses,
	RetryMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut},
}

// Options configures a Client.
type Options struct {
	// Base URL of the service
	Endpoint string
	// Bearer token for the start and complete calls
	Token string
	// Retry policy; zero value means DefaultPolicy
	Policy *httpretry.Policy
	// Concurrent attachment uploads
	MaxParallel int
	HTTPClient  *http.Client
}

// Client performs the upload protocol.
type Client struct {
	logger      zerolog.Logger
	endpoint    string
	token       string
	maxParallel int
	http        *httpretry.Client
}

// NewClient creates an upload client.
func NewClient(logger zerolog.Logger, opts Options) *Client {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	policy := DefaultPolicy
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Client{
		logger:      logger,
		endpoint:    endpoint,
		token:       opts.Token,
		maxParallel: maxParallel,
		http:        httpretry.New(logger, opts.HTTPClient, policy),
	}
}

// Result describes a completed upload.
type Result struct {
	// Viewer URL, empty when the service did not return one
	ReportURL string
	// Attachments that were transferred
	Uploaded int
	// Attachments skipped because the file was missing or the transfer failed
	Skipped int
}

type startRequest struct {
	AttachmentIDs []string `json:"attachmentIds"`
}

type startResponse struct {
	ReportUploadURL      string            `json:"report_upload_url"`
	AttachmentUploadURLs map[string]string `json:"attachment_upload_urls"`
	UploadToken          string            `json:"upload_token"`
}

type completeRequest struct {
	UploadToken string `json:"upload_token"`
}

type completeResponse struct {
	ReportURL string `json:"report_url"`
}

// Upload runs all four phases. The report is not modified.
func (c *Client) Upload(ctx context.Context, rep *model.Report, attachments []model.AttachmentRef) (*Result, error) {
	start, err := c.start(ctx, attachment.IDs(attachments))
	if err != nil {
		return nil, fmt.Errorf("failed to start upload: %w", err)
	}

	if err := c.putReport(ctx, start.ReportUploadURL, rep); err != nil {
		return nil, fmt.Errorf("failed to upload report: %w", err)
	}

	result := &Result{}
	c.putAttachments(ctx, attachments, start.AttachmentUploadURLs, result)

	reportURL, err := c.complete(ctx, start.UploadToken)
	if err != nil {
		return nil, fmt.Errorf("failed to complete upload: %w", err)
	}
	result.ReportURL = reportURL
	return result, nil
}

func (c *Client) start(ctx context.Context, ids []string) (*startResponse, error) {
	var resp startResponse
	if err := c.postJSON(ctx, startPath, startRequest{AttachmentIDs: ids}, &resp); err != nil {
		return nil, err
	}
	if resp.ReportUploadURL == "" {
		return nil, fmt.Errorf("response is missing report_upload_url")
	}
	if resp.UploadToken == "" {
		return nil, fmt.Errorf("response is missing upload_token")
	}
	c.logger.Debug().
		Int("attachments", len(ids)).
		Int("attachment_urls", len(resp.AttachmentUploadURLs)).
		Msg("Upload started")
	return &resp, nil
}

func (c *Client) putReport(ctx context.Context, uploadURL string, rep *model.Report) error {
	compressed, err := Compress(rep)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(ctx, transferTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		req.ContentLength = int64(len(compressed))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "br")
		req.Header.Set("Content-Length", strconv.Itoa(len(compressed)))
		return req, nil
	})
	if err != nil {
		return err
	}
	if err := httpretry.CheckStatus(http.MethodPut, "report upload URL", resp); err != nil {
		return err
	}

	c.logger.Debug().Int("bytes", len(compressed)).Msg("Report uploaded")
	return nil
}

// putAttachments uploads every attachment that received a URL. Failures are
// logged and counted, never returned.
func (c *Client) putAttachments(ctx context.Context, attachments []model.AttachmentRef, urls map[string]string, result *Result) {
	type outcome struct {
		uploaded bool
	}

	p := pool.NewWithResults[outcome]().
		WithContext(ctx).
		WithMaxGoroutines(c.maxParallel)

	for _, att := range attachments {
		uploadURL, ok := urls[att.ID]
		if !ok {
			c.logger.Debug().Str("id", att.ID).Msg("No upload URL for attachment")
			continue
		}
		p.Go(func(ctx context.Context) (outcome, error) {
			if err := c.putAttachment(ctx, att, uploadURL); err != nil {
				c.logger.Warn().
					Err(err).
					Str("id", att.ID).
					Str("path", att.Path).
					Msg("Skipping attachment")
				return outcome{}, nil
			}
			return outcome{uploaded: true}, nil
		})
	}

	// Tasks never return errors.
	outcomes, _ := p.Wait()
	for _, o := range outcomes {
		if o.uploaded {
			result.Uploaded++
		} else {
			result.Skipped++
		}
	}
}

func (c *Client) putAttachment(ctx context.Context, att model.AttachmentRef, uploadURL string) error {
	info, err := os.Stat(att.Path)
	if err != nil {
		return fmt.Errorf("attachment not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("attachment %s is a directory", att.Path)
	}
	size := info.Size()

	// Each attempt reopens the file so retries stream from the start.
	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	resp, err := c.http.Do(ctx, transferTimeout, func(ctx context.Context) (*http.Request, error) {
		f, err := os.Open(att.Path)
		if err != nil {
			return nil, err
		}
		opened = append(opened, f)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
		if err != nil {
			return nil, err
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", att.ContentType)
		req.Header.Set("Content-Length", strconv.FormatInt(size, 10))
		return req, nil
	})
	if err != nil {
		return err
	}
	if err := httpretry.CheckStatus(http.MethodPut, "attachment upload URL", resp); err != nil {
		return err
	}

	c.logger.Debug().Str("id", att.ID).Int64("bytes", size).Msg("Attachment uploaded")
	return nil
}

func (c *Client) complete(ctx context.Context, token string) (string, error) {
	var resp completeResponse
	if err := c.postJSON(ctx, completePath, completeRequest{UploadToken: token}, &resp); err != nil {
		return "", err
	}
	return c.absoluteURL(resp.ReportURL), nil
}

// absoluteURL prefixes service-relative URLs with the endpoint.
func (c *Client) absoluteURL(u string) string {
	if u == "" || strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return c.endpoint + u
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	target := c.endpoint + path

	resp, err := c.http.Do(ctx, exchangeTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)
		return req, nil
	})
	if err != nil {
		return err
	}
	if err := httpretry.CheckStatus(http.MethodPost, target, resp); err != nil {
		return err
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// Compress serializes the report to JSON and brotli-compresses it.
func Compress(rep *model.Report) ([]byte, error) {
	raw, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress report: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress report: %w", err)
	}
	return buf.Bytes(), nil
}

// Publish uploads the report and logs the outcome. Upload failures never
// propagate: the caller's exit status must not depend on the service.
func Publish(ctx context.Context, logger zerolog.Logger, c *Client, rep *model.Report, attachments []model.AttachmentRef) *Result {
	result, err := c.Upload(ctx, rep, attachments)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upload report")
		return nil
	}

	ev := logger.Info().
		Int("tests", len(rep.Tests)).
		Int("attachments", result.Uploaded)
	if result.Skipped > 0 {
		ev = ev.Int("skipped_attachments", result.Skipped)
	}
	if result.ReportURL != "" {
		ev = ev.Str("url", result.ReportURL)
	}
	ev.Msg("Report uploaded")
	return result
}
