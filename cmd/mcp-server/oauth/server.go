package oauth

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulseworks/oura-mcp/internal/oauth"
)

// Server provides the OAuth 2.0 endpoints: dynamic registration, the
// authorization-code flow with the Oura credential-capture step, token
// exchange, revocation, and discovery metadata.
type Server struct {
	manager *oauth.Manager
	cfg     oauth.Config
}

// NewServer creates a new OAuth server over the token manager.
func NewServer(manager *oauth.Manager) *Server {
	return &Server{manager: manager, cfg: manager.Config()}
}

// HandleAuthServerMetadata serves RFC 8414 authorization-server discovery.
func (s *Server) HandleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := s.cfg.Issuer
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth/authorize",
		"token_endpoint":                        issuer + "/oauth/token",
		"registration_endpoint":                 issuer + "/oauth/register",
		"revocation_endpoint":                   issuer + "/oauth/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"scopes_supported":                      s.cfg.Scopes,
		"resource_indicators_supported":         true,
	})
}

// HandleProtectedResourceMetadata serves RFC 9728 protected-resource
// discovery. Registered with and without a trailing slash because some MCP
// clients request either form.
func (s *Server) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := s.cfg.Issuer
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":                 issuer,
		"authorization_servers":    []string{issuer},
		"scopes_supported":         s.cfg.Scopes,
		"bearer_methods_supported": []string{"header"},
	})
}

// HandleRegister registers dynamic clients. Registration is open: any caller
// gets a client_id, and clients authenticate at the token endpoint with
// method "none" plus PKCE.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RedirectURIs []string `json:"redirect_uris"`
		ClientName   string   `json:"client_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_client_metadata", "request body must be JSON")
		return
	}

	client := oauth.Client{
		ClientID:     uuid.New().String(),
		RedirectURIs: req.RedirectURIs,
		ClientName:   req.ClientName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.manager.Clients.Set(r.Context(), client.ClientID, client); err != nil {
		log.Error().Err(err).Msg("storing client failed")
		http.Error(w, "Failed to store client", http.StatusInternalServerError)
		return
	}

	log.Info().Str("client_id", client.ClientID).Str("client_name", client.ClientName).Msg("client registered")
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                  client.ClientID,
		"client_id_issued_at":        client.CreatedAt.Unix(),
		"redirect_uris":              client.RedirectURIs,
		"client_name":                client.ClientName,
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "none",
	})
}

// HandleAuthorize starts the authorization-code flow. A valid request gets a
// pending session and a redirect to the credential-capture page; an unknown
// client is reported back to the redirect_uri, but an unregistered
// redirect_uri is never redirected to.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	state := query.Get("state")

	if redirectURI == "" {
		http.Error(w, "redirect_uri is required", http.StatusBadRequest)
		return
	}

	var client oauth.Client
	found, err := s.manager.Clients.Get(r.Context(), clientID, &client)
	if err != nil {
		log.Error().Err(err).Msg("client lookup failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Redirect(w, r, errorRedirect(redirectURI, "invalid_request", "unknown client_id", state), http.StatusFound)
		return
	}
	if !redirectAllowed(redirectURI, client.RedirectURIs) {
		http.Error(w, "redirect_uri is not registered for this client", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	req := oauth.AuthRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               query.Get("scope"),
		State:               state,
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		SessionID:           uuid.New().String(),
		Status:              oauth.StatusPending,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.cfg.AuthCodeTTL),
	}
	if err := s.manager.AuthCodes.Set(r.Context(), req.SessionID, req); err != nil {
		log.Error().Err(err).Msg("storing auth request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/connect?session="+url.QueryEscape(req.SessionID), http.StatusFound)
}

var connectPage = template.Must(template.New("connect").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>Connect your Oura account</title>
  <style>
    body { font-family: Arial, sans-serif; background:#0f172a; color:#e2e8f0; display:flex; align-items:center; justify-content:center; height:100vh; margin:0; }
    .card { background:#111827; border:1px solid #1f2937; padding:32px; border-radius:12px; max-width:420px; }
    h1 { margin:0 0 12px; font-size:22px; }
    p { margin:0 0 18px; color:#94a3b8; font-size:14px; }
    input[type=password] { width:100%; padding:10px; border-radius:8px; border:1px solid #334155; background:#0f172a; color:#e2e8f0; box-sizing:border-box; }
    button { margin-top:16px; width:100%; padding:10px; border:0; border-radius:8px; background:#2563eb; color:white; font-size:15px; cursor:pointer; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Connect your Oura account</h1>
    <p>Paste your Oura personal access token to let this client read your health data.</p>
    <form method="POST" action="/oauth/connect">
      <input type="hidden" name="session_id" value="{{.SessionID}}" />
      <input type="password" name="oura_token" placeholder="Oura personal access token" required />
      <button type="submit">Connect</button>
    </form>
  </div>
</body>
</html>`))

// HandleConnectPage serves the credential-capture form for a pending session.
func (s *Server) HandleConnectPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session")
	req, ok := s.pendingSession(w, r, sessionID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := connectPage.Execute(w, map[string]string{"SessionID": req.SessionID}); err != nil {
		log.Error().Err(err).Msg("rendering connect page failed")
	}
}

// HandleConnectSubmit captures the user's Oura token, marks the session
// authorized, and re-keys the record under a fresh authorization code. The
// expiration set when the flow started carries through the re-key.
func (s *Server) HandleConnectSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}

	sessionID := r.FormValue("session_id")
	ouraToken := r.FormValue("oura_token")
	if ouraToken == "" {
		http.Error(w, "oura_token is required", http.StatusBadRequest)
		return
	}

	req, ok := s.pendingSession(w, r, sessionID)
	if !ok {
		return
	}

	remaining := time.Until(req.ExpiresAt)
	if remaining <= 0 {
		_ = s.manager.AuthCodes.Delete(r.Context(), sessionID)
		http.Error(w, "Session expired", http.StatusBadRequest)
		return
	}

	userID := uuid.New().String()
	err := s.manager.UserTokens.Set(r.Context(), userID, oauth.UserToken{
		OuraToken: ouraToken,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("storing user token failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	code, err := oauth.RandomToken(32)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	req.Status = oauth.StatusAuthorized
	req.UserID = userID
	if err := s.manager.AuthCodes.Delete(r.Context(), sessionID); err != nil {
		log.Error().Err(err).Msg("deleting session failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := s.manager.AuthCodes.SetTTL(r.Context(), code, req, remaining); err != nil {
		log.Error().Err(err).Msg("storing auth code failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	log.Info().Str("client_id", req.ClientID).Str("user_id", userID).Msg("authorization granted")
	http.Redirect(w, r, buildRedirect(req.RedirectURI, code, req.State), http.StatusFound)
}

func (s *Server) pendingSession(w http.ResponseWriter, r *http.Request, sessionID string) (*oauth.AuthRequest, bool) {
	if sessionID == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return nil, false
	}

	var req oauth.AuthRequest
	found, err := s.manager.AuthCodes.Get(r.Context(), sessionID, &req)
	if err != nil {
		log.Error().Err(err).Msg("session lookup failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if !found || req.Status != oauth.StatusPending {
		http.Error(w, "Invalid or expired session", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// tokenRequest is the union of token-endpoint parameters, accepted as either
// a form body or JSON.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
	Resource     string `json:"resource"`
	ClientID     string `json:"client_id"`
	Token        string `json:"token"`
}

func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("decoding JSON body: %w", err)
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parsing form body: %w", err)
	}
	return &tokenRequest{
		GrantType:    r.FormValue("grant_type"),
		Code:         r.FormValue("code"),
		CodeVerifier: r.FormValue("code_verifier"),
		RefreshToken: r.FormValue("refresh_token"),
		Resource:     r.FormValue("resource"),
		ClientID:     r.FormValue("client_id"),
		Token:        r.FormValue("token"),
	}, nil
}

// HandleToken exchanges authorization codes and refresh tokens for opaque
// bearer tokens.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Token endpoint. POST grant_type=authorization_code or grant_type=refresh_token.",
		})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := parseTokenRequest(r)
	if err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", "request body must be form-encoded or JSON")
		return
	}

	switch req.GrantType {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(w, r, req)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r, req)
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type",
			fmt.Sprintf("grant_type %q is not supported", req.GrantType))
	}
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	if req.Code == "" {
		oauthError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	var record oauth.AuthRequest
	found, err := s.manager.AuthCodes.Get(r.Context(), req.Code, &record)
	if err != nil {
		log.Error().Err(err).Msg("auth code lookup failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found || record.Status != oauth.StatusAuthorized {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid or has expired")
		return
	}

	if record.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier is required")
			return
		}
		if !oauth.VerifyS256(record.CodeChallenge, req.CodeVerifier) {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
	}

	// Consume before minting so a code can never be exchanged twice.
	if err := s.manager.AuthCodes.Delete(r.Context(), req.Code); err != nil {
		log.Error().Err(err).Msg("consuming auth code failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.issueTokens(w, r, record.ClientID, record.UserID, record.Scope, req.Resource, "")
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	if req.RefreshToken == "" {
		oauthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	var record oauth.Token
	found, err := s.manager.AccessTokens.Get(r.Context(), req.RefreshToken, &record)
	if err != nil {
		log.Error().Err(err).Msg("refresh token lookup failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found || !record.IsRefreshToken {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid")
		return
	}
	if record.Expired(time.Now().UTC()) {
		_ = s.manager.AccessTokens.Delete(r.Context(), req.RefreshToken)
		oauthError(w, http.StatusBadRequest, "invalid_grant", "refresh token has expired")
		return
	}

	s.issueTokens(w, r, record.ClientID, record.UserID, record.Scope, record.Resource, req.RefreshToken)
}

// issueTokens mints a fresh access token and, when refreshToken is empty, a
// companion refresh token. Refresh tokens are not rotated: a refresh grant
// hands the same string back.
func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, clientID, userID, scope, resource, refreshToken string) {
	accessToken, err := oauth.RandomToken(32)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	if refreshToken == "" {
		refreshToken, err = oauth.RandomToken(32)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		err = s.manager.CreateRefreshToken(r.Context(), refreshToken, oauth.Token{
			ClientID:  clientID,
			UserID:    userID,
			Scope:     scope,
			Resource:  resource,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		})
		if err != nil {
			log.Error().Err(err).Msg("storing refresh token failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	err = s.manager.CreateAccessToken(r.Context(), accessToken, oauth.Token{
		ClientID:     clientID,
		UserID:       userID,
		Scope:        scope,
		Resource:     resource,
		RefreshToken: refreshToken,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.AccessTokenTTL),
	}, 0)
	if err != nil {
		log.Error().Err(err).Msg("storing access token failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int(s.cfg.AccessTokenTTL.Seconds()),
		"refresh_token": refreshToken,
		"scope":         scope,
	}
	if resource != "" {
		response["resource"] = resource
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleRevoke deletes the presented token. Per RFC 7009 the response is
// success whether or not the token existed.
func (s *Server) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := ""
	if req, err := parseTokenRequest(r); err == nil {
		token = req.Token
	}

	if token != "" {
		if err := s.manager.AccessTokens.Delete(r.Context(), token); err != nil {
			log.Error().Err(err).Msg("revoking token failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// HandleCallback echoes the authorization response. Useful as a registered
// redirect_uri when debugging clients.
func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Authorization code received",
		"code":    query.Get("code"),
		"state":   query.Get("state"),
	})
}

// HandleTestToken mints an access token directly from an Oura credential,
// skipping the browser flow. Only mounted when test endpoints are enabled.
func (s *Server) HandleTestToken(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableTestEndpoints {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OuraToken string `json:"oura_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OuraToken == "" {
		oauthError(w, http.StatusBadRequest, "invalid_request", "oura_token is required")
		return
	}

	userID := uuid.New().String()
	err := s.manager.UserTokens.Set(r.Context(), userID, oauth.UserToken{
		OuraToken: req.OuraToken,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.issueTokens(w, r, "test-client", userID, strings.Join(s.cfg.Scopes, " "), "", "")
}

func redirectAllowed(redirectURI string, allowed []string) bool {
	for _, uri := range allowed {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

func buildRedirect(base, code, state string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func errorRedirect(base, code, description, state string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("error", code)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func oauthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
