package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBodySize caps how much of a rejected response is read.
const maxErrorBodySize int64 = 1 << 20

// DefaultHeaderTimeout bounds the wait for response headers. Streams
// themselves have no overall deadline.
const DefaultHeaderTimeout = 60 * time.Second

// NewHTTPClient builds a client suited for long-lived streams: the
// response-header wait is bounded, the body is not.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = DefaultHeaderTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{Transport: transport}
}

// PostStream sends body as JSON and returns the open response body. Non-2xx
// responses are read (bounded), closed and returned as *UpstreamError.
func PostStream(ctx context.Context, client *http.Client, provider, endpoint string, headers http.Header, body any) (io.ReadCloser, error) {
	if client == nil {
		client = http.DefaultClient
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", provider, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", provider, redactError(err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, vs := range headers {
		for i, v := range vs {
			if i == 0 {
				httpReq.Header.Set(k, v)
			} else {
				httpReq.Header.Add(k, v)
			}
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: provider, Err: redactError(err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		upErr := &UpstreamError{Provider: provider, StatusCode: resp.StatusCode}
		if env, ok := ParseErrorEnvelope(string(data)); ok {
			upErr.Type = env.Type
			upErr.Code = env.Code
			upErr.Message = env.Message
		} else {
			upErr.Message = strings.TrimSpace(string(data))
		}
		return nil, upErr
	}
	return resp.Body, nil
}

// secretParams are query parameters that carry credentials.
var secretParams = []string{"key", "api_key", "access_token"}

// redactError masks credentials in the URL carried by a *url.Error.
func redactError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = RedactURL(urlErr.URL)
	}
	return err
}

// RedactURL replaces the values of credential query parameters.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	if u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	changed := false
	for _, name := range secretParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SSEData returns the payload of a "data:" field line. Other fields and
// non-field lines report false.
func SSEData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

// ErrorEnvelope is the normalized form of a vendor error body.
type ErrorEnvelope struct {
	Type    string
	Code    string
	Message string
}

// ParseErrorEnvelope recognises the error shapes vendors use:
//
//	{"error":{"message":..,"type":..,"code":..}}   OpenAI compatible, Gemini
//	{"type":"error","error":{"type":..,"message":..}}  Anthropic
//	{"error":"..."}                                  Ollama
func ParseErrorEnvelope(payload string) (ErrorEnvelope, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return ErrorEnvelope{}, false
	}
	var raw struct {
		Type  string          `json:"type"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil || len(raw.Error) == 0 || string(raw.Error) == "null" {
		return ErrorEnvelope{}, false
	}

	var msg string
	if err := json.Unmarshal(raw.Error, &msg); err == nil {
		if msg == "" {
			return ErrorEnvelope{}, false
		}
		return ErrorEnvelope{Type: raw.Type, Message: msg}, true
	}

	var obj struct {
		Type    string          `json:"type"`
		Status  string          `json:"status"`
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw.Error, &obj); err != nil {
		return ErrorEnvelope{}, false
	}
	env := ErrorEnvelope{Type: obj.Type, Message: obj.Message}
	if env.Type == "" {
		env.Type = obj.Status
	}
	if len(obj.Code) > 0 && string(obj.Code) != "null" {
		env.Code = strings.Trim(string(obj.Code), "\"")
	}
	if env.Message == "" && env.Type == "" {
		return ErrorEnvelope{}, false
	}
	return env, true
}

// VendorErrorFromPayload converts an in-band error envelope to *VendorError.
func VendorErrorFromPayload(provider, payload string) (*VendorError, bool) {
	env, ok := ParseErrorEnvelope(payload)
	if !ok {
		return nil, false
	}
	typ := env.Type
	if typ == "" {
		typ = env.Code
	}
	return &VendorError{Provider: provider, Type: typ, Message: env.Message}, true
}

// MergeExtra returns body as a JSON object with extra keys added. Keys
// already present in body win.
func MergeExtra(body any, extra map[string]any) (any, error) {
	if len(extra) == 0 {
		return body, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	obj := map[string]any{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := obj[k]; !exists {
			obj[k] = v
		}
	}
	return obj, nil
}
