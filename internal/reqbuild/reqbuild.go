// Package reqbuild turns a resolved endpoint template and a
// caller's parameters into one concrete HTTP request shape.
package reqbuild

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"regexp"
	"strings"

	"github.com/connectorrt/runtime/internal/connector"
)

// Format is the wire encoding chosen for the request body.
type Format string

const (
	FormatJSON      Format = "json"
	FormatForm      Format = "form"
	FormatMultipart Format = "multipart"
)

// reserved parameter names are consumed by the runtime and never sent to
// the vendor.
var reserved = map[string]bool{
	"credentials":  true,
	"connectionId": true,
}

// Built is the request builder's output contract.
type Built struct {
	URL               string
	Query             url.Values
	Body              []byte
	Format            Format
	MultipartBoundary string // set only when Format == FormatMultipart
}

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}|:(\w+)`)

// Build assembles a Built request shape from baseUrl, endpoint, method, params, and ctx.
// Placeholders in endpoint are consumed from params first, then from
// credentials; whatever params remain become the query (GET/DELETE/HEAD)
// or the body (POST/PUT/PATCH).
func Build(ctx context.Context, connectorID, baseURL, endpoint, method string, params map[string]any, creds connector.Credentials) (Built, error) {
	remaining := make(map[string]any, len(params))
	for k, v := range params {
		if reserved[k] {
			continue
		}
		remaining[k] = v
	}

	path, err := substitute(endpoint, remaining, creds)
	if err != nil {
		return Built{}, err
	}

	full := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		full = path
	}

	switch strings.ToUpper(method) {
	case "GET", "DELETE", "HEAD":
		q := url.Values{}
		for k, v := range remaining {
			q.Set(k, joinValue(v))
		}
		return Built{URL: full, Query: q, Format: FormatJSON}, nil
	default:
		format := chooseFormat(connectorID, endpoint, method)
		switch format {
		case FormatMultipart:
			body, boundary, err := buildMultipart(remaining)
			if err != nil {
				return Built{}, err
			}
			return Built{URL: full, Format: FormatMultipart, Body: body, MultipartBoundary: boundary}, nil
		case FormatForm:
			q := url.Values{}
			for k, v := range remaining {
				q.Set(k, joinValue(v))
			}
			return Built{URL: full, Format: FormatForm, Body: []byte(q.Encode())}, nil
		default:
			body, err := json.Marshal(remaining)
			if err != nil {
				return Built{}, fmt.Errorf("reqbuild: marshal body: %w", err)
			}
			return Built{URL: full, Format: FormatJSON, Body: body}, nil
		}
	}
}

// chooseFormat applies vendor-specific heuristics: Slack file-upload
// endpoints go multipart, Stripe writes go form-encoded, everything else
// defaults to JSON.
func chooseFormat(connectorID, endpoint, method string) Format {
	if connectorID == "slack" && strings.Contains(endpoint, "upload") {
		return FormatMultipart
	}
	if connectorID == "stripe" {
		switch strings.ToUpper(method) {
		case "POST", "PUT", "PATCH":
			return FormatForm
		}
	}
	return FormatJSON
}

func substitute(endpoint string, params map[string]any, creds connector.Credentials) (string, error) {
	var outerErr error
	result := placeholderPattern.ReplaceAllStringFunc(endpoint, func(token string) string {
		m := placeholderPattern.FindStringSubmatch(token)
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if v, ok := params[name]; ok {
			delete(params, name)
			return url.PathEscape(joinValue(v))
		}
		if v, ok := creds[name]; ok {
			return url.PathEscape(v)
		}
		outerErr = fmt.Errorf("reqbuild: unresolved placeholder %q in endpoint %q", name, endpoint)
		return token
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

// joinValue renders a parameter value for query/form encoding; arrays join
// on a comma.
func joinValue(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = fmt.Sprintf("%v", e)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// buildMultipart writes one form field per parameter. The HTTP layer, not
// this package, sets Content-Type so the boundary it reports here lines up
// with what it actually writes (mime/multipart is stdlib; no multipart
// library appears anywhere in the retrieval pack).
func buildMultipart(params map[string]any) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		if err := w.WriteField(k, joinValue(v)); err != nil {
			return nil, "", fmt.Errorf("reqbuild: write multipart field %q: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("reqbuild: close multipart writer: %w", err)
	}
	return buf.Bytes(), w.Boundary(), nil
}
