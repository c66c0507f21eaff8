package upstream

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

	"github.com/swagger-mcp/gateway/internal/compiler"
)

// Dispatcher executes exactly one HTTP request per tools/call invocation.
// Modeled as a pure function over (endpoint, tool, arguments) the way
// spec.md §9 calls for: Tool is compiled data, not behaviour, so there is
// nothing here but request construction and response folding.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewDispatcher builds a Dispatcher with a shared, connection-pooled HTTP
// client. defaultTimeout bounds every call unless the caller's context
// carries a tighter deadline.
func NewDispatcher(defaultTimeout time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Dispatcher{
		timeout: defaultTimeout,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 0 && req.URL.Host != via[0].URL.Host {
					// Stop following; hand the caller the redirect response
					// itself rather than chasing it cross-host.
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Call performs the HTTP request for one tools/call invocation of tool
// against baseURL with args. A nil error and nil envelope combination never
// happens. A non-nil error means either that the request could not be built
// from args (a missing path parameter, an unencodable body) or that the
// caller's context was canceled, in which case no content should be
// produced at all (spec.md §4.3/§5). Everything else, network failures,
// non-2xx responses, is folded into the envelope.
func (d *Dispatcher) Call(ctx context.Context, baseURL string, tool compiler.Tool, args Arguments) (*Envelope, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := d.buildRequest(callCtx, baseURL, tool, args)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller's own context ended this call, not our internal
			// deadline: produce nothing, per spec.md §5's cancellation rule.
			return nil, ctx.Err()
		}
		return &Envelope{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Envelope{Status: resp.StatusCode, Success: false, Error: err.Error()}, nil
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	var parsed any
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) == nil {
		return &Envelope{Status: resp.StatusCode, Success: success, Response: parsed}, nil
	}
	return &Envelope{Status: resp.StatusCode, Success: success, Response: string(raw)}, nil
}

func (d *Dispatcher) buildRequest(ctx context.Context, baseURL string, tool compiler.Tool, args Arguments) (*http.Request, error) {
	expandedPath, err := expandPath(tool.PathTemplate, args.Path)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/") + expandedPath)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}

	if len(args.Query) > 0 {
		q := u.Query()
		for name, value := range args.Query {
			addQueryValue(q, name, value)
		}
		u.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	hasBody := false
	if args.Body != nil {
		encoded, err := json.Marshal(args.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		hasBody = true
	}

	req, err := http.NewRequestWithContext(ctx, tool.HTTPMethod, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	for name, value := range args.Header {
		req.Header.Set(name, fmt.Sprint(value))
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// expandPath substitutes every {name} placeholder in template with the
// URL-encoded value of pathArgs[name].
func expandPath(template string, pathArgs map[string]any) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(template) {
		if template[i] != '{' {
			b.WriteByte(template[i])
			i++
			continue
		}
		end := strings.IndexByte(template[i:], '}')
		if end == -1 {
			return "", fmt.Errorf("path template %q has an unterminated parameter", template)
		}
		name := template[i+1 : i+end]
		val, ok := pathArgs[name]
		if !ok {
			return "", fmt.Errorf("missing path parameter %q", name)
		}
		b.WriteString(url.PathEscape(fmt.Sprint(val)))
		i += end + 1
	}
	return b.String(), nil
}

func addQueryValue(q url.Values, key string, value any) {
	if items, ok := value.([]any); ok {
		for _, item := range items {
			q.Add(key, fmt.Sprint(item))
		}
		return
	}
	q.Add(key, fmt.Sprint(value))
}
