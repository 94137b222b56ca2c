package linkedin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Token is the token endpoint's answer to an authorization code exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	Scope        string
	ExpiresAt    time.Time
}

// UserInfo is the OpenID Connect userinfo response.
type UserInfo struct {
	Sub           string
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
	Locale        string
	Email         string
	EmailVerified bool
}

// AuthCodeURL builds the provider authorization URL carrying state:
// response_type=code, client_id, redirect_uri, scope (space-delimited), state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancel()

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.cfg.RedirectURI)
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.cfg.TokenURL,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, body)
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		IDToken      string `json:"id_token"`
		Scope        string `json:"scope"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if err := validateTokenResponse(
		tokenResp.AccessToken,
		tokenResp.TokenType,
		tokenResp.ExpiresIn,
	); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	return &Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		IDToken:      tokenResp.IDToken,
		Scope:        tokenResp.Scope,
		ExpiresAt:    c.nowFunc().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

// UserInfo fetches the member's identity with an access token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, userInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("failed to parse userinfo response: invalid JSON")
	}

	doc := gjson.ParseBytes(body)
	info := &UserInfo{
		Sub:           doc.Get("sub").String(),
		Name:          doc.Get("name").String(),
		GivenName:     doc.Get("given_name").String(),
		FamilyName:    doc.Get("family_name").String(),
		Picture:       doc.Get("picture").String(),
		Locale:        localeString(doc.Get("locale")),
		Email:         doc.Get("email").String(),
		EmailVerified: doc.Get("email_verified").Bool(),
	}
	if info.Sub == "" {
		return nil, errors.New("userinfo response has no sub")
	}
	if info.Name == "" {
		info.Name = strings.TrimSpace(info.GivenName + " " + info.FamilyName)
	}
	return info, nil
}

// localeString accepts both "en_US" and LinkedIn's {"country":"US","language":"en"}.
func localeString(v gjson.Result) string {
	if v.IsObject() {
		lang, country := v.Get("language").String(), v.Get("country").String()
		if lang != "" && country != "" {
			return lang + "_" + country
		}
		return lang + country
	}
	return v.String()
}

// validateTokenResponse performs basic sanity checks on a token response.
func validateTokenResponse(accessToken, tokenType string, expiresIn int) error {
	if accessToken == "" {
		return fmt.Errorf("access_token is empty")
	}
	if len(accessToken) < 10 {
		return fmt.Errorf("access_token is too short (length: %d)", len(accessToken))
	}
	if expiresIn <= 0 {
		return fmt.Errorf("expires_in must be positive, got: %d", expiresIn)
	}
	if tokenType != "" && !strings.EqualFold(tokenType, "Bearer") {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", tokenType)
	}
	return nil
}
