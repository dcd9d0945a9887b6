// Package authinject mutates a request's headers and query
// parameters to carry authentication, and substituting {name} placeholders
// in a URL from the credential bundle, per the tagged union over AuthType.
package authinject

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/connectorrt/runtime/internal/connector"
)

// ErrMissingCredential is returned when the field an AuthType rule needs is
// absent from the credential bundle.
type ErrMissingCredential struct {
	Field string
}

func (e ErrMissingCredential) Error() string {
	return fmt.Sprintf("authinject: missing credential field %q", e.Field)
}

// Result is authinject's output contract: the caller merges Headers/Query into the
// outbound request and uses URL in place of the template it was given.
type Result struct {
	URL     string
	Headers http.Header
	Query   url.Values
}

// Inject applies authType's rule against cfg and creds, then substitutes
// {name} placeholders in rawURL from creds. AuthCustom performs the URL
// substitution only; its header/body auth is the transport's job (see
// internal/cloudauth), not this package's.
func Inject(authType connector.AuthType, cfg connector.AuthConfig, creds connector.Credentials, rawURL string) (Result, error) {
	res := Result{Headers: http.Header{}, Query: url.Values{}}

	switch authType {
	case connector.AuthOAuth2:
		token := firstNonEmpty(creds, "accessToken", "token", "integrationToken")
		if token == "" {
			return res, ErrMissingCredential{Field: "accessToken"}
		}
		res.Headers.Set("Authorization", "Bearer "+token)

	case connector.AuthAPIKey:
		value := creds["apiKeyValue"]
		if value == "" {
			key := creds["apiKey"]
			if key == "" {
				return res, ErrMissingCredential{Field: "apiKey"}
			}
			value = cfg.Prefix + key
		} else {
			value = substitutePlaceholders(value, creds)
		}
		if cfg.In == "query" {
			param := cfg.QueryParam
			if param == "" {
				param = "api_key"
			}
			res.Query.Set(param, value)
		} else {
			header := cfg.HeaderName
			if header == "" {
				header = "Authorization"
			}
			res.Headers.Set(header, value)
		}
		for name, tmpl := range cfg.AdditionalParams {
			res.Query.Set(name, substitutePlaceholders(tmpl, creds))
		}

	case connector.AuthBasic:
		user, pass := creds["username"], creds["password"]
		if user == "" {
			return res, ErrMissingCredential{Field: "username"}
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		res.Headers.Set("Authorization", "Basic "+encoded)

	case connector.AuthBearer:
		field := cfg.TokenField
		if field == "" {
			field = "token"
		}
		token := creds[field]
		if token == "" {
			return res, ErrMissingCredential{Field: field}
		}
		res.Headers.Set("Authorization", "Bearer "+token)

	case connector.AuthCustom:
		// Transport passes through: the operation template, or a
		// cloudauth-backed RoundTripper selected by cfg.Custom.Kind,
		// supplies its own auth.
	}

	res.URL = substitutePlaceholders(rawURL, creds)
	return res, nil
}

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}|:(\w+)`)

// substitutePlaceholders replaces {name} and :name tokens with the
// URL-encoded credential value for name; an unresolved token is left in
// place unchanged rather than failing the whole substitution, matching the
// Request Builder's params-then-credentials precedence (the request builder handles params).
func substitutePlaceholders(s string, creds connector.Credentials) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := token
		if len(token) > 0 && (token[0] == '{' || token[0] == ':') {
			name = placeholderPattern.FindStringSubmatch(token)[1]
			if name == "" {
				name = placeholderPattern.FindStringSubmatch(token)[2]
			}
		}
		val, ok := creds[name]
		if !ok {
			return token
		}
		return url.PathEscape(val)
	})
}

func firstNonEmpty(creds connector.Credentials, keys ...string) string {
	for _, k := range keys {
		if v := creds[k]; v != "" {
			return v
		}
	}
	return ""
}
