package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/assistantd/assistantd/pkg/models"
)

// ActionTool resolves action calls: it validates the model's arguments
// against the endpoint's parameter schema and performs the described HTTP
// call. Validation failures and non-2xx responses come back as tool output so
// the model can retry with corrected arguments.
type ActionTool struct {
	client    *http.Client
	timeout   time.Duration
	maxOutput int
}

// ActionOptions configures the action executor.
type ActionOptions struct {
	Client  *http.Client
	Timeout time.Duration

	// MaxOutput caps response body bytes fed back to the model.
	MaxOutput int
}

// NewActionTool creates the action executor.
func NewActionTool(opts ActionOptions) *ActionTool {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = 64 << 10
	}
	return &ActionTool{client: opts.Client, timeout: opts.Timeout, maxOutput: opts.MaxOutput}
}

// Execute validates arguments and performs the HTTP call.
func (t *ActionTool) Execute(ctx context.Context, cfg *models.ActionToolConfig, arguments string) (*ExecResult, error) {
	args, validationErr := t.validate(cfg, arguments)
	if validationErr != nil {
		return &ExecResult{Output: "argument validation failed: " + validationErr.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := t.buildRequest(ctx, cfg, args)
	if err != nil {
		return nil, &Failure{Kind: models.ErrKindServerError, Err: fmt.Errorf("build action request: %w", err)}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Network errors are transient collaborator failures; the engine's
		// retry layer decides whether to escalate.
		return nil, fmt.Errorf("action call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxOutput)+1))
	if err != nil {
		return nil, fmt.Errorf("read action response: %w", err)
	}
	text := string(body)
	if len(text) > t.maxOutput {
		text = text[:t.maxOutput] + "\n[response truncated]"
	}

	return &ExecResult{Output: fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, text)}, nil
}

// validate checks the model's arguments against the configured schema and
// returns them decoded. A nil schema accepts any object.
func (t *ActionTool) validate(cfg *models.ActionToolConfig, arguments string) (map[string]any, error) {
	var args map[string]any
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %v", err)
	}

	if len(cfg.Parameters) == 0 {
		return args, nil
	}
	schema, err := jsonschema.CompileString(cfg.Name+".json", string(cfg.Parameters))
	if err != nil {
		return nil, fmt.Errorf("endpoint parameter schema is invalid: %v", err)
	}
	// The compiler wants the instance re-decoded through interface{} types.
	var instance any
	if err := json.Unmarshal([]byte(arguments), &instance); err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, err
	}
	return args, nil
}

// buildRequest maps arguments onto the endpoint: query parameters for GET and
// DELETE, a JSON body otherwise.
func (t *ActionTool) buildRequest(ctx context.Context, cfg *models.ActionToolConfig, args map[string]any) (*http.Request, error) {
	method := strings.ToUpper(cfg.Method)

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet, http.MethodDelete:
		endpoint, parseErr := url.Parse(cfg.URL)
		if parseErr != nil {
			return nil, parseErr
		}
		q := endpoint.Query()
		for key, value := range args {
			q.Set(key, fmt.Sprintf("%v", value))
		}
		endpoint.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	default:
		payload, marshalErr := json.Marshal(args)
		if marshalErr != nil {
			return nil, marshalErr
		}
		req, err = http.NewRequestWithContext(ctx, method, cfg.URL, strings.NewReader(string(payload)))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}
