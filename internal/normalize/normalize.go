// Package normalize maps heterogeneous vendor JSON list shapes into a
// uniform {items, meta} envelope and extracts pagination cursors, using
// tidwall/gjson to pick fields without a full unmarshal.
package normalize

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/connectorrt/runtime/internal/connector"
)

// rule inspects a raw vendor body and, if it recognizes the shape, returns a
// normalized list. ok is false when the rule does not apply.
type rule func(body string) (connector.NormalizedList, bool)

// vendorRules are tried in order of specificity before the generic fallbacks.
var vendorRules = []rule{
	slackRule,
	stripeRule,
	hubspotRule,
	githubRule,
	zendeskRule,
	typeformRule,
	googleRule,
	dropboxRule,
	dataverseRule,
}

// Normalize maps connectorID + rawBody into {items, meta}. connectorID is
// currently unused for dispatch (rules match on body shape, which is more
// robust to connector id drift) but is kept in the signature so callers can
// grow connector-specific overrides without an interface break.
func Normalize(connectorID string, rawBody []byte) (connector.NormalizedList, bool) {
	body := string(rawBody)
	if !gjson.Valid(body) {
		return connector.NormalizedList{}, false
	}

	for _, r := range vendorRules {
		if out, ok := r(body); ok {
			return out, true
		}
	}
	return genericRule(body)
}

func rawItems(arr gjson.Result) []json.RawMessage {
	items := make([]json.RawMessage, 0, len(arr.Array()))
	for _, v := range arr.Array() {
		items = append(items, json.RawMessage(v.Raw))
	}
	return items
}

func slackRule(body string) (connector.NormalizedList, bool) {
	for _, field := range []string{"members", "channels", "files"} {
		arr := gjson.Get(body, field)
		if !arr.Exists() || !arr.IsArray() {
			continue
		}
		meta := connector.ListMeta{}
		if cursor := gjson.Get(body, "response_metadata.next_cursor"); cursor.Exists() && cursor.String() != "" {
			meta.Cursor = cursor.String()
			meta.NextCursor = cursor.String()
			meta.HasMore = true
		} else if paging := gjson.Get(body, "paging"); paging.Exists() {
			if next := paging.Get("page"); next.Exists() {
				meta.HasMore = paging.Get("pages").Int() > next.Int()
			}
		}
		return connector.NormalizedList{Items: rawItems(arr), Meta: meta}, true
	}
	return connector.NormalizedList{}, false
}

func stripeRule(body string) (connector.NormalizedList, bool) {
	data := gjson.Get(body, "data")
	hasMore := gjson.Get(body, "has_more")
	if !data.Exists() || !data.IsArray() || !hasMore.Exists() {
		return connector.NormalizedList{}, false
	}
	items := rawItems(data)
	meta := connector.ListMeta{HasMore: hasMore.Bool()}
	if meta.HasMore && len(items) > 0 {
		if id := gjson.GetBytes(items[len(items)-1], "id"); id.Exists() {
			meta.NextCursor = id.String()
			meta.CursorStyle = connector.CursorStyleStripe
		}
	}
	return connector.NormalizedList{Items: items, Meta: meta}, true
}

func hubspotRule(body string) (connector.NormalizedList, bool) {
	results := gjson.Get(body, "results")
	if !results.Exists() || !results.IsArray() {
		return connector.NormalizedList{}, false
	}
	meta := connector.ListMeta{}
	if next := gjson.Get(body, "paging.next.after"); next.Exists() {
		meta.NextCursor = next.String()
		meta.HasMore = true
	}
	return connector.NormalizedList{Items: rawItems(results), Meta: meta}, true
}

func githubRule(body string) (connector.NormalizedList, bool) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "[") {
		return connector.NormalizedList{}, false
	}
	arr := gjson.Parse(body)
	if !arr.IsArray() {
		return connector.NormalizedList{}, false
	}
	return connector.NormalizedList{Items: rawItems(arr)}, true
}

func zendeskRule(body string) (connector.NormalizedList, bool) {
	for _, field := range []string{"results", "tickets", "users"} {
		arr := gjson.Get(body, field)
		if !arr.Exists() || !arr.IsArray() {
			continue
		}
		meta := connector.ListMeta{}
		if next := gjson.Get(body, "next_page"); next.Exists() && next.String() != "" {
			meta.Next = next.String()
			meta.HasMore = true
		}
		return connector.NormalizedList{Items: rawItems(arr), Meta: meta}, true
	}
	return connector.NormalizedList{}, false
}

func typeformRule(body string) (connector.NormalizedList, bool) {
	items := gjson.Get(body, "items")
	total := gjson.Get(body, "total_items")
	if !items.Exists() || !items.IsArray() || !total.Exists() {
		return connector.NormalizedList{}, false
	}
	return connector.NormalizedList{Items: rawItems(items)}, true
}

func googleRule(body string) (connector.NormalizedList, bool) {
	for _, field := range []string{"files", "items"} {
		arr := gjson.Get(body, field)
		if !arr.Exists() || !arr.IsArray() {
			continue
		}
		meta := connector.ListMeta{}
		if next := gjson.Get(body, "nextPageToken"); next.Exists() && next.String() != "" {
			meta.NextCursor = next.String()
			meta.HasMore = true
		}
		return connector.NormalizedList{Items: rawItems(arr), Meta: meta}, true
	}
	return connector.NormalizedList{}, false
}

func dropboxRule(body string) (connector.NormalizedList, bool) {
	for _, field := range []string{"entries", "matches"} {
		arr := gjson.Get(body, field)
		if !arr.Exists() || !arr.IsArray() {
			continue
		}
		meta := connector.ListMeta{}
		if hasMore := gjson.Get(body, "has_more"); hasMore.Exists() {
			meta.HasMore = hasMore.Bool()
		}
		if cursor := gjson.Get(body, "cursor"); cursor.Exists() {
			meta.Cursor = cursor.String()
			meta.NextCursor = cursor.String()
		}
		return connector.NormalizedList{Items: rawItems(arr), Meta: meta}, true
	}
	return connector.NormalizedList{}, false
}

func dataverseRule(body string) (connector.NormalizedList, bool) {
	value := gjson.Get(body, "value")
	if !value.Exists() || !value.IsArray() {
		return connector.NormalizedList{}, false
	}
	meta := connector.ListMeta{}
	if next := gjson.Get(body, "@odata\\.nextLink"); next.Exists() {
		meta.Next = next.String()
		meta.HasMore = true
		if skip := extractSkipToken(next.String()); skip != "" {
			meta.NextCursor = skip
		}
	}
	return connector.NormalizedList{Items: rawItems(value), Meta: meta}, true
}

func extractSkipToken(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("$skiptoken")
}

// genericRule falls back to top-level items/results/data arrays, or a bare array.
func genericRule(body string) (connector.NormalizedList, bool) {
	for _, field := range []string{"items", "results", "data"} {
		arr := gjson.Get(body, field)
		if arr.Exists() && arr.IsArray() {
			return connector.NormalizedList{Items: rawItems(arr)}, true
		}
	}
	parsed := gjson.Parse(body)
	if parsed.IsArray() {
		return connector.NormalizedList{Items: rawItems(parsed)}, true
	}
	return connector.NormalizedList{}, false
}

// NextCursorParams computes the parameters merge for executePaginated given
// the previous call's meta. A Stripe-tagged cursor (CursorStyle) always
// resubmits as starting_after, never the generic cursor/page_token shape.
// Otherwise the priority is: next_cursor -> response_metadata.next_cursor
// -> parse query string of next.
func NextCursorParams(prevBody []byte, meta connector.ListMeta) (map[string]any, bool) {
	if meta.CursorStyle == connector.CursorStyleStripe {
		if meta.NextCursor != "" {
			return map[string]any{"starting_after": meta.NextCursor}, true
		}
		if meta.HasMore {
			data := gjson.GetBytes(prevBody, "data")
			if data.Exists() && data.IsArray() {
				items := data.Array()
				if len(items) > 0 {
					if id := items[len(items)-1].Get("id"); id.Exists() {
						return map[string]any{"starting_after": id.String()}, true
					}
				}
			}
		}
		return nil, false
	}
	if meta.NextCursor != "" {
		return map[string]any{"cursor": meta.NextCursor, "page_token": meta.NextCursor}, true
	}
	if cursor := gjson.GetBytes(prevBody, "response_metadata.next_cursor"); cursor.Exists() && cursor.String() != "" {
		return map[string]any{"cursor": cursor.String()}, true
	}
	if meta.Next != "" {
		if u, err := url.Parse(meta.Next); err == nil {
			q := u.Query()
			if len(q) > 0 {
				out := map[string]any{}
				for k := range q {
					out[k] = q.Get(k)
				}
				return out, true
			}
		}
		return map[string]any{"page_token": meta.Next}, true
	}
	return nil, false
}
