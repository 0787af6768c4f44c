package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// TestContext drives a running kycvault server over HTTP and remembers the
// last response plus ids captured by earlier steps.
type TestContext struct {
	BaseURL    string
	AdminToken string

	client     *http.Client
	status     int
	body       []byte
	headers    http.Header
	parsedBody map[string]any
	vars       map[string]string
}

func NewTestContext(baseURL, adminToken string) *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		client:     &http.Client{Timeout: 10 * time.Second},
		vars:       map[string]string{},
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.status = 0
	tc.body = nil
	tc.headers = nil
	tc.parsedBody = nil
	tc.vars = map[string]string{}
}

func (tc *TestContext) POST(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

// Upload posts a multipart form with a single "file" field.
func (tc *TestContext) Upload(path, filename string, data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	tc.status = resp.StatusCode
	tc.headers = resp.Header
	tc.body, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	tc.parsedBody = nil
	if len(tc.body) > 0 {
		var parsed map[string]any
		if json.Unmarshal(tc.body, &parsed) == nil {
			tc.parsedBody = parsed
		}
	}
	return nil
}

func (tc *TestContext) GetResponseField(field string) (any, error) {
	if tc.parsedBody == nil {
		return nil, fmt.Errorf("response is not a JSON object: %s", tc.body)
	}
	v, ok := tc.parsedBody[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response: %s", field, tc.body)
	}
	return v, nil
}

func (tc *TestContext) ResponseContains(field string) bool {
	_, ok := tc.parsedBody[field]
	return ok
}

func (tc *TestContext) GetLastResponseStatus() int            { return tc.status }
func (tc *TestContext) GetLastResponseBody() []byte           { return tc.body }
func (tc *TestContext) GetLastResponseHeader(k string) string { return tc.headers.Get(k) }
func (tc *TestContext) GetAdminToken() string                 { return tc.AdminToken }

// Set stores a value captured from a response for later steps.
func (tc *TestContext) Set(key, value string) { tc.vars[key] = value }

func (tc *TestContext) Get(key string) string { return tc.vars[key] }
