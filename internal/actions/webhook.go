package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/convohq/automation/internal/secrets"
	"github.com/convohq/automation/pkg/schema"
)

// secretRefPrefix marks a header value that must be resolved through the
// credential vault instead of being sent literally.
const secretRefPrefix = "secret://"

const (
	defaultWebhookTimeout = 10 * time.Second
	maxWebhookResponse    = 1 << 20 // 1MB
)

// Webhook posts workflow data to an external URL. The request payload is
// either the literal params payload (interpolated) or the result of a jq
// transform over the evaluation context. Server and network failures are
// retryable; client errors are not.
type Webhook struct {
	client *http.Client
	vault  secrets.Vault
	logger *slog.Logger
}

func NewWebhook(client *http.Client, vault secrets.Vault, logger *slog.Logger) *Webhook {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{client: client, vault: vault, logger: logger}
}

func (a *Webhook) Name() string { return "webhook" }

func (a *Webhook) Execute(ctx context.Context, req *Request) (*Result, error) {
	url := stringParam(req.Params, "url", "")
	if url == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "webhook requires url").WithNode(req.NodeID)
	}
	method := strings.ToUpper(stringParam(req.Params, "method", http.MethodPost))

	payload, err := a.buildPayload(req)
	if err != nil {
		return nil, err
	}

	timeout := defaultWebhookTimeout
	if secs := intParam(req.Params, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeAction, "marshal webhook payload").WithNode(req.NodeID).WithCause(err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build webhook request").WithNode(req.NodeID).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	headers := mapParam(req.Params, "headers")
	for k, v := range headers {
		s, ok := v.(string)
		if !ok {
			continue
		}
		resolved, err := a.resolveHeaderValue(ctx, s)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "resolve webhook header %q", k).WithNode(req.NodeID).WithCause(err)
		}
		httpReq.Header.Set(k, resolved)
	}

	a.logger.Info("webhook dispatch",
		"url", url, "method", method, "headers", redactHeaders(headers))

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// Network faults and timeouts are retryable.
		return nil, schema.NewError(schema.ErrCodeCollaborator, "webhook request failed").WithNode(req.NodeID).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))

	switch {
	case resp.StatusCode >= 500:
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator, "webhook returned %d", resp.StatusCode).WithNode(req.NodeID)
	case resp.StatusCode >= 400:
		return nil, schema.NewErrorf(schema.ErrCodeAction, "webhook rejected with %d", resp.StatusCode).WithNode(req.NodeID)
	}

	output := map[string]any{"status_code": resp.StatusCode}
	var parsed any
	if json.Unmarshal(respBody, &parsed) == nil {
		output["response"] = parsed
	}
	return &Result{Output: output}, nil
}

// resolveHeaderValue swaps a secret reference for the vaulted credential.
// Literal values pass through untouched.
func (a *Webhook) resolveHeaderValue(ctx context.Context, value string) (string, error) {
	name, isRef := strings.CutPrefix(value, secretRefPrefix)
	if !isRef {
		return value, nil
	}
	if a.vault == nil {
		return "", schema.NewError(schema.ErrCodeVault, "no credential vault configured")
	}
	resolved, err := a.vault.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	return string(resolved), nil
}

// buildPayload resolves the request body: a jq transform over the
// evaluation context wins over a literal payload map.
func (a *Webhook) buildPayload(req *Request) (any, error) {
	if transform := stringParam(req.Params, "transform", ""); transform != "" {
		query, err := gojq.Parse(transform)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid webhook transform").WithNode(req.NodeID).WithCause(err)
		}
		iter := query.Run(normalizeForJq(req.Env))
		v, ok := iter.Next()
		if !ok {
			return nil, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewError(schema.ErrCodeAction, "webhook transform failed").WithNode(req.NodeID).WithCause(err)
		}
		return v, nil
	}

	if payload := mapParam(req.Params, "payload"); payload != nil {
		resolved := make(map[string]any, len(payload))
		for k, v := range payload {
			if s, ok := v.(string); ok {
				resolved[k] = Interpolate(s, req.Env)
				continue
			}
			resolved[k] = v
		}
		return resolved, nil
	}
	return nil, nil
}

// normalizeForJq round-trips the context through JSON so gojq sees only the
// value kinds it accepts.
func normalizeForJq(env map[string]any) any {
	raw, err := json.Marshal(env)
	if err != nil {
		return map[string]any{}
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

var sensitiveHeaderParts = []string{"authorization", "token", "secret", "key", "cookie", "password"}

// redactHeaders renders header names with sensitive values masked.
func redactHeaders(headers map[string]any) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		masked := false
		for _, part := range sensitiveHeaderParts {
			if strings.Contains(lk, part) {
				masked = true
				break
			}
		}
		if masked {
			out[k] = "[redacted]"
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
