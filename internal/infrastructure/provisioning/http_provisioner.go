package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"meetjoin/internal/core/domain"
	apperrors "meetjoin/pkg/errors"
	"meetjoin/pkg/tracing"
	"meetjoin/pkg/utils"

	"go.uber.org/zap"
)

const (
	maxResponseBytes = 1 << 20
	maxLoggedBody    = 4096
)

// HTTPProvisioner resolves meeting ids against the get-or-create endpoint.
// One call issues exactly one GET request.
type HTTPProvisioner struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewHTTPProvisioner creates a provisioner for endpoint. timeout bounds each
// request in addition to the caller's context.
func NewHTTPProvisioner(endpoint string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPProvisioner {
	return &HTTPProvisioner{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// response accepts both the flat {Meeting: {...}} form and the nested
// {Meeting: {Meeting: {...}}} form the meeting service may return.
type response struct {
	Meeting  json.RawMessage `json:"Meeting"`
	Attendee json.RawMessage `json:"Attendee"`
}

func (p *HTTPProvisioner) FetchCredentials(ctx context.Context, meetingID string) (*domain.SessionCredentials, error) {
	ctx, span := tracing.TraceProvisioning(ctx, meetingID)
	defer span.End()

	reqURL, err := p.requestURL(meetingID)
	if err != nil {
		return nil, apperrors.NewProvisioningError("invalid provisioning endpoint", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperrors.NewProvisioningError("failed to build request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, apperrors.NewProvisioningError("request failed", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NewProvisioningError("failed to read response", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		tracing.RecordError(ctx, err)
		return nil, apperrors.NewProvisioningError(err.Error(), resp.StatusCode, err).
			WithContext("meeting_id", meetingID)
	}

	creds, err := decodeCredentials(body)
	if err != nil {
		p.logger.Debugw("malformed provisioning response",
			"meeting_id", meetingID,
			"body", utils.TruncateString(string(body), maxLoggedBody),
		)
		return nil, apperrors.NewProvisioningError("malformed response", resp.StatusCode, err)
	}

	p.logger.Debugw("provisioning response",
		"meeting_id", meetingID,
		"status", resp.StatusCode,
		"body", utils.TruncateString(redactToken(prettyJSON(body), creds.Attendee.JoinToken), maxLoggedBody),
	)
	if err := creds.Validate(); err != nil {
		return nil, apperrors.NewProvisioningError("response is missing meeting or attendee", resp.StatusCode, err)
	}

	p.logger.Infow("credentials provisioned",
		"meeting_id", meetingID,
		"attendee_id", creds.Attendee.AttendeeID,
	)
	return creds, nil
}

func (p *HTTPProvisioner) requestURL(meetingID string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("m", meetingID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redactToken masks every occurrence of the join token in a logged body.
func redactToken(body, token string) string {
	if token == "" {
		return body
	}
	return strings.ReplaceAll(body, token, utils.MaskSensitive(token, 4))
}

func decodeCredentials(body []byte) (*domain.SessionCredentials, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}

	creds := &domain.SessionCredentials{}
	if err := decodeNested(r.Meeting, "Meeting", &creds.Meeting); err != nil {
		return nil, fmt.Errorf("meeting: %w", err)
	}
	if err := decodeNested(r.Attendee, "Attendee", &creds.Attendee); err != nil {
		return nil, fmt.Errorf("attendee: %w", err)
	}
	return creds, nil
}

// decodeNested decodes raw into v, unwrapping one level of {key: {...}}.
func decodeNested(raw json.RawMessage, key string, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return err
	}
	if inner, ok := wrapper[key]; ok && len(inner) > 0 && inner[0] == '{' {
		raw = inner
	}
	return json.Unmarshal(raw, v)
}

func prettyJSON(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return string(body)
	}
	return buf.String()
}
