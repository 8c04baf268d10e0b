package gotrue

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

	"github.com/goliatone/go-authsession"
	goerrors "github.com/goliatone/go-errors"
)

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	token  string
	body   any
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return authsession.NewUnknownAuthError(r.op+": failed to encode request", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return authsession.NewUnknownAuthError(r.op+": failed to build request", err)
	}

	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	bearer := r.token
	if bearer == "" {
		bearer = c.config.APIKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return authsession.NewTransportError(r.op+": "+transportReason(err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return authsession.NewTransportError(r.op+": failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(r.op, resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return authsession.NewUnknownAuthError(r.op+": failed to decode response", err)
	}
	return nil
}

func transportReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	default:
		return "identity service unreachable"
	}
}

type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errorResponse) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return e.Error
}

func (e errorResponse) message() string {
	for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

var credentialCodes = map[string]bool{
	"invalid_credentials":        true,
	"invalid_grant":              true,
	"bad_jwt":                    true,
	"no_authorization":           true,
	"session_not_found":          true,
	"session_expired":            true,
	"refresh_token_not_found":    true,
	"refresh_token_already_used": true,
	"user_not_found":             true,
	"email_not_confirmed":        true,
}

var conflictCodes = map[string]bool{
	"user_already_exists": true,
	"email_exists":        true,
	"phone_exists":        true,
}

// classify maps a non 2xx response into the error taxonomy.
func classify(op string, status int, body []byte) error {
	var payload errorResponse
	_ = json.Unmarshal(body, &payload)

	code := payload.code()
	msg := payload.message()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	var err *goerrors.Error
	switch {
	case conflictCodes[code],
		status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "already registered"):
		err = authsession.NewConflictError(msg)
	case credentialCodes[code],
		status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		err = authsession.NewCredentialError(msg)
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		err = authsession.NewTransportError(fmt.Sprintf("%s: service returned %d", op, status), nil)
	default:
		err = authsession.NewUnknownAuthError(fmt.Sprintf("%s: %s", op, msg), nil)
	}

	meta := map[string]any{"status": status, "operation": op}
	if code != "" {
		meta["error_code"] = code
	}
	return err.WithMetadata(meta)
}
