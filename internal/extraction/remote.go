package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultRemoteTimeout = 10 * time.Second
	maxResponseBytes     = 64 << 10
)

// Remote calls a model-backed extraction service over HTTP.
//
//	POST {base}/extract    body: document bytes      -> Attributes JSON
//	POST {base}/summarize  body: {"text": "..."}     -> {"summary": "..."}
type Remote struct {
	baseURL string
	client  *http.Client
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = c
	}
}

func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRemoteTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) Extract(ctx context.Context, doc Document) (Attributes, error) {
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var attrs Attributes
	if err := r.post(ctx, "/extract", contentType, bytes.NewReader(doc.Data), &attrs); err != nil {
		return Attributes{}, err
	}
	attrs.CanonicalName = strings.TrimSpace(attrs.CanonicalName)
	attrs.DOB = strings.TrimSpace(attrs.DOB)
	attrs.Address = strings.TrimSpace(attrs.Address)
	return attrs, nil
}

func (r *Remote) Summarize(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := r.post(ctx, "/summarize", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	if out.Summary == "" {
		return "", fmt.Errorf("extraction service returned empty summary")
	}
	return out.Summary, nil
}

func (r *Remote) post(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return fmt.Errorf("extraction service %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode extraction response: %w", err)
	}
	return nil
}
