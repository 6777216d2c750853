package closeio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type HttpClientMock struct {
	mock.Mock
}

func (m *HttpClientMock) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	r := args.Get(0).(*http.Response)
	return r, args.Error(1)
}

func newHttpClientMock(resp *http.Response, err error) *HttpClientMock {
	m := new(HttpClientMock)
	m.On("Do", mock.Anything).Return(resp, err)
	return m
}

type KeyGetterMock struct {
	mock.Mock
}

func (m *KeyGetterMock) Get(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func newKeyGetterMock(key string, err error) *KeyGetterMock {
	m := new(KeyGetterMock)
	m.On("Get", mock.Anything).Return(key, err)
	return m
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		StatusCode: status,
	}
}

func newHelper(client HttpClient, kg KeyGetter) *RequestHelper {
	return &RequestHelper{
		client:    client,
		keyGetter: kg,
		baseUrl:   "https://api.close.com/api/v1",
		retry:     RetryPolicy{MaxAttempts: 3, Interval: time.Millisecond},
		log:       zap.NewNop(),
	}
}

func TestNewRequestHelper(t *testing.T) {
	type args struct {
		client  HttpClient
		kg      KeyGetter
		baseUrl string
	}
	tests := []struct {
		name    string
		args    args
		want    *RequestHelper
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name: "successfully create RequestHelper",
			args: args{
				client:  new(HttpClientMock),
				kg:      StaticKey("key"),
				baseUrl: "https://api.close.com/api/v1/",
			},
			want: &RequestHelper{
				keyGetter: StaticKey("key"),
				client:    new(HttpClientMock),
				baseUrl:   "https://api.close.com/api/v1",
				retry:     DefaultRetryPolicy(),
			},
			wantErr: assert.NoError,
		},
		{
			name: "key getter nil  return error",
			args: args{
				client:  new(HttpClientMock),
				baseUrl: "baseUrl",
			},
			wantErr: assert.Error,
		},
		{
			name: "baseUrl not set  return error",
			args: args{
				client: new(HttpClientMock),
				kg:     StaticKey("key"),
			},
			wantErr: assert.Error,
		},
		{
			name: "client not set  return error",
			args: args{
				kg:      StaticKey("key"),
				baseUrl: "baseUrl",
			},
			wantErr: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRequestHelper(tt.args.client, tt.args.kg, tt.args.baseUrl, DefaultRetryPolicy())

			if !tt.wantErr(t, err, fmt.Sprintf("NewRequestHelper(%v, %v)", tt.args.kg, tt.args.baseUrl)) {
				return
			}
			if got != nil {
				assert.NotNil(t, got.log)
				got.log = nil
			}
			assert.Equalf(t, tt.want, got, "NewRequestHelper(%v, %v)", tt.args.kg, tt.args.baseUrl)
		})
	}
}

func TestList(t *testing.T) {
	tests := []struct {
		name    string
		client  *HttpClientMock
		kg      KeyGetter
		want    *Page[Record]
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name:   "successful list request  page returned",
			client: newHttpClientMock(jsonResponse(200, `{"data":[{"id":"lead_1"}],"has_more":true}`), nil),
			kg:     newKeyGetterMock("key", nil),
			want: &Page[Record]{
				Data:    []Record{{"id": "lead_1"}},
				HasMore: true,
			},
			wantErr: assert.NoError,
		},
		{
			name:   "cursor page  cursor returned",
			client: newHttpClientMock(jsonResponse(200, `{"data":[],"cursor_next":"abc"}`), nil),
			kg:     newKeyGetterMock("key", nil),
			want: &Page[Record]{
				Data:       []Record{},
				CursorNext: "abc",
			},
			wantErr: assert.NoError,
		},
		{
			name:   "400 status code  APIError returned",
			client: newHttpClientMock(jsonResponse(400, `{"error":"bad query"}`), nil),
			kg:     newKeyGetterMock("key", nil),
			wantErr: func(t assert.TestingT, err error, i ...interface{}) bool {
				var apiErr *APIError
				return assert.ErrorAs(t, err, &apiErr, i...) && assert.Equal(t, "bad query", apiErr.Message, i...)
			},
		},
		{
			name:    "key getter returns error  error returned",
			client:  new(HttpClientMock),
			kg:      newKeyGetterMock("", errors.New("no key")),
			wantErr: assert.Error,
		},
		{
			name:    "invalid json  error returned",
			client:  newHttpClientMock(jsonResponse(200, `{"data":`), nil),
			kg:      newKeyGetterMock("key", nil),
			wantErr: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHelper(tt.client, tt.kg)
			got, err := h.List(context.Background(), "lead", url.Values{"_skip": {"0"}})

			if !tt.wantErr(t, err, "List(<context>, lead)") {
				return
			}
			assert.Equalf(t, tt.want, got, "List(<context>, lead)")
		})
	}
}

func TestDo_RequestShape(t *testing.T) {
	client := new(HttpClientMock)
	client.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		user, pass, ok := req.BasicAuth()
		body, _ := io.ReadAll(req.Body)
		return ok && user == "key" && pass == "" &&
			req.Method == http.MethodPost &&
			req.URL.String() == "https://api.close.com/api/v1/status/lead/" &&
			string(body) == `{"label":"Qualified"}`
	})).Return(jsonResponse(200, `{"id":"stat_1","label":"Qualified"}`), nil)

	h := newHelper(client, StaticKey("key"))
	got, err := h.Create(context.Background(), "status/lead", Record{"label": "Qualified"})

	require.NoError(t, err)
	assert.Equal(t, "stat_1", got.ID())
	client.AssertExpectations(t)
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	client := new(HttpClientMock)
	client.On("Do", mock.Anything).Return((*http.Response)(nil), errors.New("connection reset")).Twice()
	client.On("Do", mock.Anything).Return(jsonResponse(200, `{"id":"lead_1"}`), nil).Once()

	h := newHelper(client, StaticKey("key"))
	got, err := h.Get(context.Background(), "lead/lead_1", nil)

	require.NoError(t, err)
	assert.Equal(t, "lead_1", got.ID())
	client.AssertNumberOfCalls(t, "Do", 3)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	client := newHttpClientMock(nil, errors.New("connection refused"))

	h := newHelper(client, StaticKey("key"))
	_, err := h.Get(context.Background(), "me", nil)

	assert.Error(t, err)
	client.AssertNumberOfCalls(t, "Do", 3)
}

func TestDo_APIErrorNotRetried(t *testing.T) {
	client := newHttpClientMock(jsonResponse(500, `{"errors":["boom"]}`), nil)

	h := newHelper(client, StaticKey("key"))
	_, err := h.Update(context.Background(), "lead/lead_1", Record{"name": "x"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
	client.AssertNumberOfCalls(t, "Do", 1)
}

func TestDelete_EmptyBody(t *testing.T) {
	client := newHttpClientMock(jsonResponse(200, ``), nil)

	h := newHelper(client, StaticKey("key"))
	assert.NoError(t, h.Delete(context.Background(), "activity/task_completed/acti_1"))
}

func TestNewAPIError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "error field", body: `{"error":"nope"}`, want: "nope"},
		{name: "field errors sorted", body: `{"field-errors":{"b":"two","a":"one"}}`, want: "a: one; b: two"},
		{name: "not json  status text", body: `<html>`, want: "Too Many Requests"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newAPIError(http.MethodGet, "lead", 429, []byte(tt.body))
			assert.Equal(t, tt.want, got.Message)
		})
	}
}
