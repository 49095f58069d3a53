package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"wa-relay/internal/usecase"
)

type stubRelay struct {
	out   usecase.RelayOutput
	err   error
	body  []byte
	calls int
}

func (s *stubRelay) Relay(_ context.Context, body []byte) (usecase.RelayOutput, error) {
	s.calls++
	s.body = body
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func verifyEvent(token string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/webhook",
		QueryStringParameters: map[string]string{
			"hub.mode":         "subscribe",
			"hub.verify_token": token,
			"hub.challenge":    "1158201444",
		},
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, relay Relayer) *Handler {
	t.Helper()
	h, err := NewHandler(relay, "s3cret", nil)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, "s3cret", nil)
	require.Error(t, err)

	_, err = NewHandler(&stubRelay{}, "  ", nil)
	require.ErrorContains(t, err, "verify token")
}

func TestHandle_VerificationSucceeds(t *testing.T) {
	relay := &stubRelay{}
	h := newTestHandler(t, relay)

	resp, err := h.Handle(context.Background(), verifyEvent("s3cret"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1158201444", resp.Body)
	require.Zero(t, relay.calls)
}

func TestHandle_VerificationRejected(t *testing.T) {
	relay := &stubRelay{}
	h := newTestHandler(t, relay)

	resp, err := h.Handle(context.Background(), verifyEvent("wrong"))
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "FORBIDDEN", parseBody[errorResponse](t, resp.Body).Error)
	require.Zero(t, relay.calls)
}

func TestHandle_VerificationRunsBeforeConfigurationCheck(t *testing.T) {
	relay := &stubRelay{err: &usecase.Error{Code: usecase.ErrorConfiguration, Reason: "storage_not_configured"}}
	h := newTestHandler(t, relay)

	resp, err := h.Handle(context.Background(), verifyEvent("s3cret"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			relay := &stubRelay{}
			h := newTestHandler(t, relay)

			event := makeEvent(`{}`)
			event.HTTPMethod = method
			resp, err := h.Handle(context.Background(), event)
			require.NoError(t, err)
			require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
			require.Zero(t, relay.calls)
		})
	}
}

func TestHandle_HappyPath(t *testing.T) {
	relay := &stubRelay{out: usecase.RelayOutput{Stage: usecase.StageDone, SenderID: "A"}}
	h := newTestHandler(t, relay)

	resp, err := h.Handle(context.Background(), makeEvent(`{"entry":[]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", resp.Body)
	require.Equal(t, `{"entry":[]}`, string(relay.body))
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_SoftFailuresStillOK(t *testing.T) {
	relay := &stubRelay{out: usecase.RelayOutput{
		Stage:        usecase.StageDone,
		SoftFailures: []usecase.ErrorCode{usecase.ErrorGeneration, usecase.ErrorDelivery},
	}}
	h := newTestHandler(t, relay)

	resp, err := h.Handle(context.Background(), makeEvent(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandle_DecodesBase64Body(t *testing.T) {
	relay := &stubRelay{}
	h := newTestHandler(t, relay)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"entry":[]}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"entry":[]}`, string(relay.body))

	event.Body = "%%%"
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_base64", parseBody[errorResponse](t, resp.Body).Reason)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "configuration", err: &usecase.Error{Code: usecase.ErrorConfiguration, Reason: "storage_not_configured"}, status: http.StatusInternalServerError, code: string(usecase.ErrorConfiguration)},
		{name: "malformed", err: &usecase.Error{Code: usecase.ErrorMalformedPayload, Reason: "invalid_json"}, status: http.StatusBadRequest, code: string(usecase.ErrorMalformedPayload)},
		{name: "invalid message", err: &usecase.Error{Code: usecase.ErrorInvalidMessage, Reason: "invalid_message_format"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidMessage)},
		{name: "storage write", err: &usecase.Error{Code: usecase.ErrorStorageWrite, Reason: "storage_write_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorStorageWrite)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubRelay{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(`{}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, "application/json", resp.Headers["Content-Type"])

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubRelay{})

	event := makeEvent(`{}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestServeHTTP_Verification(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, &stubRelay{}))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=abc")
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "abc", string(raw))
}

func TestServeHTTP_Post(t *testing.T) {
	relay := &stubRelay{}
	srv := httptest.NewServer(newTestHandler(t, relay))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(`{"entry":[]}`))
	require.NoError(t, err)
	req.Header.Set("X-Correlation-Id", "corr-9")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "corr-9", res.Header.Get("X-Correlation-Id"))
	require.Equal(t, `{"entry":[]}`, string(relay.body))
}

func TestServeHTTP_BodyTooLarge(t *testing.T) {
	relay := &stubRelay{}
	srv := httptest.NewServer(newTestHandler(t, relay))
	defer srv.Close()

	body := `{"entry":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	res, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	require.Equal(t, "PAYLOAD_TOO_LARGE", parseBody[errorResponse](t, string(raw)).Error)
	require.NotEmpty(t, res.Header.Get("X-Correlation-Id"))
	require.Zero(t, relay.calls)
}

func TestServeHTTP_BodyAtLimitIsRelayed(t *testing.T) {
	relay := &stubRelay{}
	srv := httptest.NewServer(newTestHandler(t, relay))
	defer srv.Close()

	body := strings.Repeat(" ", maxBodyBytes-2) + "{}"
	res, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, relay.body, maxBodyBytes)
}
