package closeio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const DefaultBaseUrl = "https://api.close.com/api/v1"

type KeyGetter interface {
	Get(ctx context.Context) (string, error)
}

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestHelper sends requests to the Close REST API, authenticating with an API key
// (HTTP basic auth, key as username) and retrying transient transport failures.
type RequestHelper struct {
	keyGetter KeyGetter
	client    HttpClient
	baseUrl   string
	retry     RetryPolicy
	log       *zap.Logger
}

func NewRequestHelper(client HttpClient, kg KeyGetter, baseUrl string, retry RetryPolicy) (*RequestHelper, error) {
	if len(baseUrl) == 0 {
		return nil, fmt.Errorf("baseUrl needs to be provided")
	}
	if kg == nil {
		return nil, fmt.Errorf("keyGetter needs to be provided")
	}
	if client == nil {
		return nil, fmt.Errorf("http client needs to be provided")
	}
	return &RequestHelper{
		keyGetter: kg,
		client:    client,
		baseUrl:   strings.TrimRight(baseUrl, "/"),
		retry:     retry,
		log:       zap.NewNop(),
	}, nil
}

// WithLogger sets the logger used to report retried requests.
func (h *RequestHelper) WithLogger(log *zap.Logger) *RequestHelper {
	h.log = log.Named("close")
	return h
}

// APIError is a non-2xx response from Close. It is never retried.
type APIError struct {
	StatusCode int
	Message    string
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("close api error - status code: %d, %s %s: %s", e.StatusCode, e.Method, e.Path, e.Message)
}

type errorBody struct {
	Error       string         `json:"error"`
	Errors      []any          `json:"errors"`
	FieldErrors map[string]any `json:"field-errors"`
}

func newAPIError(method, path string, statusCode int, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode, Method: method, Path: path}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		var parts []string
		if parsed.Error != "" {
			parts = append(parts, parsed.Error)
		}
		for _, item := range parsed.Errors {
			parts = append(parts, fmt.Sprint(item))
		}
		fields := make([]string, 0, len(parsed.FieldErrors))
		for field := range parsed.FieldErrors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			parts = append(parts, fmt.Sprintf("%s: %v", field, parsed.FieldErrors[field]))
		}
		e.Message = strings.Join(parts, "; ")
	}
	if e.Message == "" {
		e.Message = http.StatusText(statusCode)
	}
	return e
}

func (h *RequestHelper) url(path string, params url.Values) string {
	reqUrl := fmt.Sprintf("%s/%s/", h.baseUrl, strings.Trim(path, "/"))
	if len(params) > 0 {
		reqUrl += "?" + params.Encode()
	}
	return reqUrl
}

// Do sends a request to Close and decodes the response body into E.
//   - transport failures are retried according to the helper's RetryPolicy
//   - *APIError returned if status code is not 2xx, without retrying
//   - an empty 2xx body decodes to the zero value of E
func Do[E any](ctx context.Context, h *RequestHelper, method, path string, params url.Values, body any) (*E, error) {
	reqUrl := h.url(path, params)

	var reqBody []byte
	if body != nil {
		var err error
		if reqBody, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("unable to create close payload: %w", err)
		}
	}

	key, err := h.keyGetter.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get close api key: %w", err)
	}

	op := func() (*E, error) {
		var bodyReader io.Reader = http.NoBody
		if reqBody != nil {
			bodyReader = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqUrl, bodyReader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("unable to create close request: %w", err))
		}
		req.Header = http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		}
		req.SetBasicAuth(key, "")

		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("unable to send request to close: %w", err)
		}
		defer resp.Body.Close()

		resBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("unable to read close response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, backoff.Permanent(newAPIError(method, path, resp.StatusCode, resBody))
		}

		parsed := new(E)
		if len(bytes.TrimSpace(resBody)) == 0 {
			return parsed, nil
		}
		if err := json.Unmarshal(resBody, parsed); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("unable to parse close response: %w", err))
		}
		return parsed, nil
	}

	notify := func(err error, wait time.Duration) {
		h.log.Warn("retrying close request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotifyWithData(op, h.retry.NewBackOff(ctx), notify)
}

// List fetches one page of a collection.
func (h *RequestHelper) List(ctx context.Context, path string, params url.Values) (*Page[Record], error) {
	return Do[Page[Record]](ctx, h, http.MethodGet, path, params, nil)
}

// Get fetches a single object, params usually carries `_fields`.
func (h *RequestHelper) Get(ctx context.Context, path string, params url.Values) (Record, error) {
	rec, err := Do[Record](ctx, h, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	return *rec, nil
}

// Create posts a payload and returns the created object including its new id.
func (h *RequestHelper) Create(ctx context.Context, path string, payload Record) (Record, error) {
	rec, err := Do[Record](ctx, h, http.MethodPost, path, nil, payload)
	if err != nil {
		return nil, err
	}
	return *rec, nil
}

// Update puts a partial payload to an existing object.
func (h *RequestHelper) Update(ctx context.Context, path string, payload Record) (Record, error) {
	rec, err := Do[Record](ctx, h, http.MethodPut, path, nil, payload)
	if err != nil {
		return nil, err
	}
	return *rec, nil
}

func (h *RequestHelper) Delete(ctx context.Context, path string) error {
	_, err := Do[Record](ctx, h, http.MethodDelete, path, nil, nil)
	return err
}
