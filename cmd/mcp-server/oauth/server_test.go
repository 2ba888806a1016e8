package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseworks/oura-mcp/internal/oauth"
	"github.com/pulseworks/oura-mcp/internal/storage"
)

const testRedirectURI = "https://client.example/callback"

func testServer(t *testing.T) (*Server, *oauth.Manager) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	manager := oauth.NewManager(store, oauth.Config{
		Issuer:              "https://mcp.example",
		EnableTestEndpoints: true,
	})
	return NewServer(manager), manager
}

func registerClient(t *testing.T, s *Server) string {
	t.Helper()
	body := `{"redirect_uris":["` + testRedirectURI + `"],"client_name":"test client"}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleRegister(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	clientID := resp["client_id"].(string)
	require.NotEmpty(t, clientID)
	return clientID
}

// authorizeAndConnect walks the browser half of the flow and returns the
// authorization code delivered to the redirect URI.
func authorizeAndConnect(t *testing.T, s *Server, clientID, verifier, ouraToken string) string {
	t.Helper()

	authURL := "/oauth/authorize?client_id=" + clientID +
		"&redirect_uri=" + url.QueryEscape(testRedirectURI) +
		"&response_type=code&state=xyz&scope=oura:read" +
		"&code_challenge=" + oauth.S256Challenge(verifier) +
		"&code_challenge_method=S256"
	rec := httptest.NewRecorder()
	s.HandleAuthorize(rec, httptest.NewRequest(http.MethodGet, authURL, nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/connect", location.Path)
	session := location.Query().Get("session")
	require.NotEmpty(t, session)

	rec = httptest.NewRecorder()
	s.HandleConnectPage(rec, httptest.NewRequest(http.MethodGet, "/connect?session="+session, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), session)

	form := url.Values{"session_id": {session}, "oura_token": {ouraToken}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/connect", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.HandleConnectSubmit(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	redirect, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "client.example", redirect.Host)
	require.Equal(t, "xyz", redirect.Query().Get("state"))
	code := redirect.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func exchangeCode(t *testing.T, s *Server, code, verifier string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.HandleToken(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestAuthorizationCodeFlow(t *testing.T) {
	s, manager := testServer(t)
	clientID := registerClient(t, s)
	code := authorizeAndConnect(t, s, clientID, "verifier123", "oura_pat_abc")

	rec, resp := exchangeCode(t, s, code, "verifier123")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Bearer", resp["token_type"])
	require.Equal(t, float64(3600), resp["expires_in"])
	require.Equal(t, "oura:read", resp["scope"])

	accessToken := resp["access_token"].(string)
	refreshToken := resp["refresh_token"].(string)
	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, refreshToken)

	record, ok, err := manager.ValidateToken(context.Background(), accessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, clientID, record.ClientID)
	require.Equal(t, "oura:read", record.Scope)

	userToken, found, err := manager.ResolveUserToken(context.Background(), record.UserID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "oura_pat_abc", userToken.OuraToken)

	// A code is burned on exchange.
	rec, resp = exchangeCode(t, s, code, "verifier123")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_grant", resp["error"])
}

func TestTokenExchangeJSONBody(t *testing.T) {
	s, _ := testServer(t)
	clientID := registerClient(t, s)
	code := authorizeAndConnect(t, s, clientID, "verifier123", "oura_pat_abc")

	body := `{"grant_type":"authorization_code","code":"` + code + `","code_verifier":"verifier123","resource":"https://mcp.example"}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.HandleToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["access_token"])
	require.Equal(t, "https://mcp.example", resp["resource"])
}

func TestPKCEWrongVerifier(t *testing.T) {
	s, _ := testServer(t)
	clientID := registerClient(t, s)
	code := authorizeAndConnect(t, s, clientID, "verifier123", "oura_pat_abc")

	rec, resp := exchangeCode(t, s, code, "wrong-verifier")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_grant", resp["error"])
	require.Contains(t, resp["error_description"], "PKCE")
}

func TestPKCEMissingVerifier(t *testing.T) {
	s, _ := testServer(t)
	clientID := registerClient(t, s)
	code := authorizeAndConnect(t, s, clientID, "verifier123", "oura_pat_abc")

	rec, resp := exchangeCode(t, s, code, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_grant", resp["error"])
	require.Contains(t, resp["error_description"], "code_verifier")
}

func TestAuthorizeUnknownClient(t *testing.T) {
	s, _ := testServer(t)

	authURL := "/oauth/authorize?client_id=nope&redirect_uri=" +
		url.QueryEscape(testRedirectURI) + "&state=abc"
	rec := httptest.NewRecorder()
	s.HandleAuthorize(rec, httptest.NewRequest(http.MethodGet, authURL, nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invalid_request", location.Query().Get("error"))
	require.Equal(t, "abc", location.Query().Get("state"))
}

func TestAuthorizeUnregisteredRedirectURI(t *testing.T) {
	s, _ := testServer(t)
	clientID := registerClient(t, s)

	authURL := "/oauth/authorize?client_id=" + clientID +
		"&redirect_uri=" + url.QueryEscape("https://evil.example/steal")
	rec := httptest.NewRecorder()
	s.HandleAuthorize(rec, httptest.NewRequest(http.MethodGet, authURL, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, rec.Header().Get("Location"))
}

func TestConnectUnknownSession(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	s.HandleConnectPage(rec, httptest.NewRequest(http.MethodGet, "/connect?session=missing", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	form := url.Values{"session_id": {"missing"}, "oura_token": {"pat"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/connect", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.HandleConnectSubmit(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshTokenGrant(t *testing.T) {
	s, manager := testServer(t)
	clientID := registerClient(t, s)
	code := authorizeAndConnect(t, s, clientID, "verifier123", "oura_pat_abc")

	rec, resp := exchangeCode(t, s, code, "verifier123")
	require.Equal(t, http.StatusOK, rec.Code)
	firstAccess := resp["access_token"].(string)
	refreshToken := resp["refresh_token"].(string)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refreshToken}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.HandleToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	require.NotEqual(t, firstAccess, refreshed["access_token"])
	require.Equal(t, refreshToken, refreshed["refresh_token"], "refresh tokens do not rotate")

	_, ok, err := manager.ValidateToken(context.Background(), refreshed["access_token"].(string))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRefreshWithAccessTokenRejected(t *testing.T) {
	s, _ := testServer(t)
	clientID := registerClient(t, s)
	code := authorizeAndConnect(t, s, clientID, "verifier123", "oura_pat_abc")

	_, resp := exchangeCode(t, s, code, "verifier123")
	accessToken := resp["access_token"].(string)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {accessToken}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.HandleToken(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, "invalid_grant", errResp["error"])
}

func TestUnsupportedGrantType(t *testing.T) {
	s, _ := testServer(t)

	form := url.Values{"grant_type": {"password"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.HandleToken(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unsupported_grant_type", resp["error"])
}

func TestTokenEndpointGETHint(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	s.HandleToken(rec, httptest.NewRequest(http.MethodGet, "/oauth/token", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "POST")
}

func TestRevokeAlwaysSucceeds(t *testing.T) {
	s, manager := testServer(t)
	clientID := registerClient(t, s)
	code := authorizeAndConnect(t, s, clientID, "verifier123", "oura_pat_abc")
	_, resp := exchangeCode(t, s, code, "verifier123")
	accessToken := resp["access_token"].(string)

	revoke := func(token string) {
		form := url.Values{"token": {token}}
		req := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.HandleRevoke(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var out map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.True(t, out["revoked"])
	}

	revoke(accessToken)
	_, ok, err := manager.ValidateToken(context.Background(), accessToken)
	require.NoError(t, err)
	require.False(t, ok)

	// Unknown tokens revoke "successfully" too.
	revoke("never-issued")
}

func TestMetadataEndpoints(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	s.HandleAuthServerMetadata(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	require.Equal(t, "https://mcp.example", meta["issuer"])
	require.Equal(t, "https://mcp.example/oauth/token", meta["token_endpoint"])
	require.Equal(t, []any{"S256"}, meta["code_challenge_methods_supported"])
	require.Equal(t, true, meta["resource_indicators_supported"])

	rec = httptest.NewRecorder()
	s.HandleProtectedResourceMetadata(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resource map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resource))
	require.Equal(t, "https://mcp.example", resource["resource"])
	require.Equal(t, []any{"https://mcp.example"}, resource["authorization_servers"])
}

func TestTestTokenEndpoint(t *testing.T) {
	s, manager := testServer(t)

	body := `{"oura_token":"oura_pat_dev"}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/test-token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.HandleTestToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	record, ok, err := manager.ValidateToken(context.Background(), resp["access_token"].(string))
	require.NoError(t, err)
	require.True(t, ok)

	userToken, found, err := manager.ResolveUserToken(context.Background(), record.UserID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "oura_pat_dev", userToken.OuraToken)
}

func TestTestTokenDisabled(t *testing.T) {
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	s := NewServer(oauth.NewManager(store, oauth.Config{Issuer: "https://mcp.example"}))

	req := httptest.NewRequest(http.MethodPost, "/oauth/test-token", strings.NewReader(`{"oura_token":"x"}`))
	rec := httptest.NewRecorder()
	s.HandleTestToken(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
