package authinject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectorrt/runtime/internal/connector"
)

func TestInjectOAuth2PrefersAccessToken(t *testing.T) {
	creds := connector.Credentials{"accessToken": "abc123", "token": "ignored"}
	res, err := Inject(connector.AuthOAuth2, connector.AuthConfig{}, creds, "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc123", res.Headers.Get("Authorization"))
}

func TestInjectOAuth2MissingCredential(t *testing.T) {
	_, err := Inject(connector.AuthOAuth2, connector.AuthConfig{}, connector.Credentials{}, "https://api.example.com")
	require.Error(t, err)
	var missing ErrMissingCredential
	require.ErrorAs(t, err, &missing)
}

func TestInjectAPIKeyHeaderWithPrefix(t *testing.T) {
	creds := connector.Credentials{"apiKey": "sk_live_1"}
	cfg := connector.AuthConfig{HeaderName: "x-api-key", Prefix: "Token "}
	res, err := Inject(connector.AuthAPIKey, cfg, creds, "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Token sk_live_1", res.Headers.Get("x-api-key"))
}

func TestInjectAPIKeyQueryPlacement(t *testing.T) {
	creds := connector.Credentials{"apiKey": "sk_live_1"}
	cfg := connector.AuthConfig{In: "query", QueryParam: "key"}
	res, err := Inject(connector.AuthAPIKey, cfg, creds, "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_1", res.Query.Get("key"))
}

func TestInjectAPIKeyAdditionalParamsTemplated(t *testing.T) {
	creds := connector.Credentials{"apiKey": "sk_live_1", "accountId": "acct_42"}
	cfg := connector.AuthConfig{AdditionalParams: map[string]string{"account": "{accountId}"}}
	res, err := Inject(connector.AuthAPIKey, cfg, creds, "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "acct_42", res.Query.Get("account"))
}

func TestInjectBasicAuth(t *testing.T) {
	creds := connector.Credentials{"username": "alice", "password": "s3cret"}
	res, err := Inject(connector.AuthBasic, connector.AuthConfig{}, creds, "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Basic YWxpY2U6czNjcmV0", res.Headers.Get("Authorization"))
}

func TestInjectBearerUsesTokenField(t *testing.T) {
	creds := connector.Credentials{"integrationToken": "tok_9"}
	cfg := connector.AuthConfig{TokenField: "integrationToken"}
	res, err := Inject(connector.AuthBearer, cfg, creds, "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok_9", res.Headers.Get("Authorization"))
}

func TestInjectCustomPassesThroughHeaders(t *testing.T) {
	creds := connector.Credentials{}
	res, err := Inject(connector.AuthCustom, connector.AuthConfig{Custom: connector.CustomAuthConfig{Kind: "gcp_oauth"}}, creds, "https://api.example.com")
	require.NoError(t, err)
	assert.Empty(t, res.Headers)
}

func TestInjectSubstitutesURLPlaceholders(t *testing.T) {
	creds := connector.Credentials{"accountId": "acct_1", "apiKey": "k"}
	res, err := Inject(connector.AuthAPIKey, connector.AuthConfig{}, creds, "https://api.example.com/{accountId}/widgets/:accountId")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/acct_1/widgets/acct_1", res.URL)
}

func TestInjectLeavesUnresolvedPlaceholderIntact(t *testing.T) {
	creds := connector.Credentials{"apiKey": "k"}
	res, err := Inject(connector.AuthAPIKey, connector.AuthConfig{}, creds, "https://api.example.com/{missing}")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/{missing}", res.URL)
}
