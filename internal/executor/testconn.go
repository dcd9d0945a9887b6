package executor

import (
	"context"
	"net/http"

	"github.com/connectorrt/runtime/internal/authinject"
	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/reqbuild"
	"github.com/connectorrt/runtime/internal/transport"
)

// TestConnectionResult is Contract C's output.
type TestConnectionResult struct {
	Status string `json:"status"`
}

var vendorHeuristics = map[string]struct {
	Endpoint string
	Method   string
}{
	"hubspot": {Endpoint: "/crm/v3/owners?limit=1", Method: "GET"},
	"stripe":  {Endpoint: "/v1/charges?limit=1", Method: "GET"},
}

// TestConnection implements Contract C: prefer a declared
// test_connection operation, then a definition-level TestConnection probe,
// then a vendor heuristic, and finally a no-network "ready" default.
func (e *Executor) TestConnection(ctx context.Context, appID string, creds map[string]string) (*TestConnectionResult, error) {
	def, err := e.definitions.Get(ctx, appID)
	if err != nil || def == nil {
		return nil, err
	}

	if op, ok := def.FindOperation("test_connection"); ok {
		res := e.Execute(ctx, ExecuteRequest{AppID: appID, FunctionID: op.ID, Credentials: creds})
		if !res.Success {
			return &TestConnectionResult{Status: "failed"}, nil
		}
		return &TestConnectionResult{Status: "ready"}, nil
	}

	endpoint, method := "", ""
	if def.TestConnection != nil {
		endpoint, method = def.TestConnection.Endpoint, def.TestConnection.Method
	} else if h, ok := vendorHeuristics[def.ID]; ok {
		endpoint, method = h.Endpoint, h.Method
	}

	if endpoint == "" {
		return &TestConnectionResult{Status: "ready"}, nil
	}

	auth, err := e.probeAuth(def, creds)
	if err != nil {
		return &TestConnectionResult{Status: "failed"}, nil
	}

	built, err := e.probeRequest(ctx, def, endpoint, method, auth)
	if err != nil {
		return &TestConnectionResult{Status: "failed"}, nil
	}

	out, reqErr := e.transport.Request(ctx, *built)
	if reqErr != nil || out.Response == nil || out.Response.StatusCode >= 400 {
		return &TestConnectionResult{Status: "failed"}, nil
	}
	return &TestConnectionResult{Status: "ready"}, nil
}

func (e *Executor) probeAuth(def *connector.ConnectorDefinition, creds connector.Credentials) (authinject.Result, error) {
	return authinject.Inject(def.AuthType, def.AuthConfig, creds, def.BaseURL)
}

func (e *Executor) probeRequest(ctx context.Context, def *connector.ConnectorDefinition, endpoint, method string, auth authinject.Result) (*transport.Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	built, err := reqbuild.Build(ctx, def.ID, auth.URL, endpoint, method, map[string]any{}, nil)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	for k, v := range auth.Headers {
		headers[k] = v
	}
	for k, v := range auth.Query {
		built.Query[k] = v
	}
	url := built.URL
	if len(built.Query) > 0 {
		url = url + "?" + built.Query.Encode()
	}
	return &transport.Request{
		URL: url, Method: method, Headers: headers, ConnectorID: def.ID,
		RateLimits: def.RateLimits, MaxAttempts: e.maxAttempts,
	}, nil
}
