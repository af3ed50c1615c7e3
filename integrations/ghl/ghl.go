// Package ghl talks to the GoHighLevel (LeadConnector) REST API: OAuth code
// exchange, contact search/create and conversation message posting.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	pkgError "github.com/nexloop/wabridge/pkg/error"
	"github.com/nexloop/wabridge/pkg/phone"
)

const (
	defaultAPIBase        = "https://services.leadconnectorhq.com"
	defaultMarketplaceURL = "https://marketplace.gohighlevel.com/oauth/chooselocation"
	apiVersion            = "2021-07-28"
	httpTimeout           = 15 * time.Second
)

var httpClient = &http.Client{Timeout: httpTimeout}

// Config carries the OAuth application credentials.
type Config struct {
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	APIBase        string
	MarketplaceURL string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.MarketplaceURL == "" {
		cfg.MarketplaceURL = defaultMarketplaceURL
	}
	return &Client{cfg: cfg}
}

// BuildAuthURL returns the marketplace location-chooser URL. The state value
// round-trips through the OAuth dance and identifies the instance.
func (c *Client) BuildAuthURL(state string) string {
	p := url.Values{}
	p.Set("response_type", "code")
	p.Set("client_id", c.cfg.ClientID)
	p.Set("redirect_uri", c.cfg.RedirectURI)
	p.Set("state", state)
	return c.cfg.MarketplaceURL + "?" + p.Encode()
}

// TokenResponse is the OAuth token grant. LocationID is filled for
// location-level installs.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	LocationID   string `json:"locationId"`
	CompanyID    string `json:"companyId"`
	UserType     string `json:"userType"`
}

// ExchangeCode trades the callback authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.cfg.RedirectURI},
	}
	var resp TokenResponse
	if err := c.formRequest(ctx, c.cfg.APIBase+"/oauth/token", form, &resp); err != nil {
		return TokenResponse{}, fmt.Errorf("token exchange: %w", err)
	}
	if resp.AccessToken == "" {
		return TokenResponse{}, pkgError.UpstreamError("token exchange returned no access token")
	}
	return resp, nil
}

// RefreshToken trades a refresh token for a fresh access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	var resp TokenResponse
	if err := c.formRequest(ctx, c.cfg.APIBase+"/oauth/token", form, &resp); err != nil {
		return TokenResponse{}, fmt.Errorf("token refresh: %w", err)
	}
	return resp, nil
}

// FetchLocationID resolves the install's location when the token grant did
// not carry one.
func (c *Client) FetchLocationID(ctx context.Context, accessToken string) (string, error) {
	var resp struct {
		Locations []struct {
			ID string `json:"id"`
		} `json:"locations"`
	}
	if err := c.jsonRequest(ctx, http.MethodGet, c.cfg.APIBase+"/locations/search", accessToken, nil, &resp); err != nil {
		return "", fmt.Errorf("location search: %w", err)
	}
	if len(resp.Locations) == 0 {
		return "", pkgError.UpstreamError("no locations visible to this token")
	}
	return resp.Locations[0].ID, nil
}

// FetchConversationProviderID returns the location's custom conversation
// provider, empty when the location has none configured yet.
func (c *Client) FetchConversationProviderID(ctx context.Context, accessToken, locationID string) (string, error) {
	var resp struct {
		Providers []struct {
			ID string `json:"_id"`
		} `json:"conversationProviders"`
	}
	reqURL := c.cfg.APIBase + "/conversations/providers?locationId=" + url.QueryEscape(locationID)
	if err := c.jsonRequest(ctx, http.MethodGet, reqURL, accessToken, nil, &resp); err != nil {
		return "", fmt.Errorf("conversation provider lookup: %w", err)
	}
	if len(resp.Providers) == 0 {
		return "", nil
	}
	return resp.Providers[0].ID, nil
}

type contactSearchResponse struct {
	Contacts []struct {
		ID string `json:"id"`
	} `json:"contacts"`
}

// SearchContact looks a contact up by phone, trying the plus-prefixed and
// bare-digit spellings the API indexes.
func (c *Client) SearchContact(ctx context.Context, accessToken, locationID, phoneE164 string) (string, error) {
	digits, err := phone.Normalize(phoneE164)
	if err != nil {
		return "", err
	}
	for _, candidate := range phone.Variants(digits) {
		searchURL := fmt.Sprintf("%s/contacts/?locationId=%s&query=%s",
			c.cfg.APIBase, url.QueryEscape(locationID), url.QueryEscape(candidate))
		var resp contactSearchResponse
		if err := c.jsonRequest(ctx, http.MethodGet, searchURL, accessToken, nil, &resp); err != nil {
			return "", fmt.Errorf("contact search: %w", err)
		}
		if len(resp.Contacts) > 0 && resp.Contacts[0].ID != "" {
			return resp.Contacts[0].ID, nil
		}
	}
	return "", nil
}

// CreateContact creates a contact for the phone number. When the API rejects
// the create as a duplicate it surfaces the existing contact's ID in the
// error payload, which is recovered here instead of failing.
func (c *Client) CreateContact(ctx context.Context, accessToken, locationID, phoneE164, name string) (string, error) {
	req := map[string]string{
		"locationId": locationID,
		"phone":      phoneE164,
	}
	if name != "" {
		req["name"] = name
	}

	var resp struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, c.cfg.APIBase+"/contacts/", accessToken, req, &resp)
	if err != nil {
		if dupID := duplicateContactID(err); dupID != "" {
			logrus.Infof("[GHL] Contact for %s already exists as %s", phoneE164, dupID)
			return dupID, nil
		}
		return "", fmt.Errorf("contact create: %w", err)
	}
	if resp.Contact.ID == "" {
		return "", pkgError.UpstreamError("contact create returned no ID")
	}
	return resp.Contact.ID, nil
}

// MessagePayload is one conversation entry pushed into GHL.
type MessagePayload struct {
	Type                   string `json:"type"`
	ContactID              string `json:"contactId"`
	Message                string `json:"message"`
	Direction              string `json:"direction,omitempty"`
	ConversationProviderID string `json:"conversationProviderId,omitempty"`
}

// PostMessage appends a message to the contact's conversation view.
func (c *Client) PostMessage(ctx context.Context, accessToken string, payload MessagePayload) (string, error) {
	if payload.Type == "" {
		payload.Type = "SMS"
	}
	var resp struct {
		MessageID      string `json:"messageId"`
		ConversationID string `json:"conversationId"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, c.cfg.APIBase+"/conversations/messages/inbound", accessToken, payload, &resp)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	return resp.MessageID, nil
}

// UpdateMessageStatus reports delivery progress of an outbound message back
// to GHL (delivered, failed, ...).
func (c *Client) UpdateMessageStatus(ctx context.Context, accessToken, messageID, status string) error {
	statusURL := fmt.Sprintf("%s/conversations/messages/%s/status", c.cfg.APIBase, url.PathEscape(messageID))
	req := map[string]string{"status": status}
	if err := c.jsonRequest(ctx, http.MethodPut, statusURL, accessToken, req, nil); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("request failed: status=%d body=%s", e.Status, e.Body)
}

// duplicateContactID digs the existing contact ID out of a duplicate-contact
// rejection.
func duplicateContactID(err error) string {
	var ae *apiError
	if !errors.As(err, &ae) || ae.Status != http.StatusBadRequest {
		return ""
	}
	var body struct {
		Meta struct {
			ContactID string `json:"contactId"`
		} `json:"meta"`
	}
	if jsonErr := json.Unmarshal([]byte(ae.Body), &body); jsonErr != nil {
		return ""
	}
	return body.Meta.ContactID
}

// formRequest posts form-encoded values and decodes a JSON response. The
// token endpoint is the only one that speaks this encoding.
func (c *Client) formRequest(ctx context.Context, reqURL string, form url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Version", apiVersion)

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Body: string(data)}
	}
	if dest != nil && len(data) > 0 {
		return json.Unmarshal(data, dest)
	}
	return nil
}

func (c *Client) jsonRequest(ctx context.Context, method, reqURL, token string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Version", apiVersion)

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Body: string(data)}
	}

	if dest != nil && len(data) > 0 {
		return json.Unmarshal(data, dest)
	}
	return nil
}
