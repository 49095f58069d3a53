package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"wa-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20

	codeForbidden        = "FORBIDDEN"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	codePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	codeInternal         = "INTERNAL_ERROR"
)

type Relayer interface {
	Relay(ctx context.Context, body []byte) (usecase.RelayOutput, error)
}

// Handler is the webhook gate. It answers the subscription handshake and
// hands every POST body to the relay pipeline.
type Handler struct {
	relay       Relayer
	verifyToken []byte
	log         *slog.Logger
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(relay Relayer, verifyToken string, logger *slog.Logger) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	if strings.TrimSpace(verifyToken) == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{relay: relay, verifyToken: []byte(verifyToken), log: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	log := h.log.With("correlation_id", correlationID)

	if req.HTTPMethod == http.MethodGet && req.QueryStringParameters["hub.mode"] == "subscribe" {
		if !h.tokenMatches(req.QueryStringParameters["hub.verify_token"]) {
			log.WarnContext(ctx, "webhook verification rejected")
			return jsonError(http.StatusForbidden, codeForbidden, "verify_token_mismatch", correlationID), nil
		}
		log.InfoContext(ctx, "webhook verified")
		return textResponse(http.StatusOK, req.QueryStringParameters["hub.challenge"], correlationID), nil
	}

	if req.HTTPMethod != http.MethodPost {
		return jsonError(http.StatusMethodNotAllowed, codeMethodNotAllowed, "", correlationID), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return jsonError(http.StatusBadRequest, string(usecase.ErrorMalformedPayload), "invalid_base64", correlationID), nil
		}
		body = decoded
	}

	out, err := h.relay.Relay(ctx, body)
	if err != nil {
		status, code, reason := mapError(err)
		log.ErrorContext(ctx, "relay failed", "status", status, "code", code, "reason", reason, "stage", out.Stage.String(), "err", err)
		return jsonError(status, code, reason, correlationID), nil
	}

	log.InfoContext(ctx, "relay complete",
		"sender", out.SenderID,
		"stage", out.Stage.String(),
		"duplicate", out.Duplicate,
		"soft_failures", out.SoftFailures,
	)
	return textResponse(http.StatusOK, "OK", correlationID), nil
}

// ServeHTTP adapts Handle for a plain net/http server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
		if correlationID == "" {
			correlationID = newUUID()
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResponse(w, jsonError(http.StatusRequestEntityTooLarge, codePayloadTooLarge, "body_exceeds_limit", correlationID))
			return
		}
		writeResponse(w, jsonError(http.StatusBadRequest, string(usecase.ErrorMalformedPayload), "unreadable_body", correlationID))
		return
	}

	req := events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               map[string]string{},
		QueryStringParameters: map[string]string{},
		Body:                  string(raw),
	}
	for k := range r.Header {
		req.Headers[k] = r.Header.Get(k)
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			req.QueryStringParameters[k] = v[0]
		}
	}

	resp, _ := h.Handle(r.Context(), req)
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func (h *Handler) tokenMatches(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), h.verifyToken) == 1
}

func mapError(err error) (status int, code, reason string) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, codeInternal, "unexpected_error"
	}
	switch ucErr.Code {
	case usecase.ErrorMalformedPayload, usecase.ErrorInvalidMessage:
		return http.StatusBadRequest, string(ucErr.Code), ucErr.Reason
	default:
		return http.StatusInternalServerError, string(ucErr.Code), ucErr.Reason
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func textResponse(status int, body, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "text/plain; charset=utf-8",
			correlationHeader: correlationID,
		},
		Body: body,
	}
}

func jsonError(status int, code, reason, correlationID string) events.APIGatewayProxyResponse {
	b, _ := json.Marshal(errorResponse{Error: code, Reason: reason})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
