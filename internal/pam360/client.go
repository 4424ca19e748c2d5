package pam360

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const apiBase = "/restapi/json/v1"

// DefaultTimeout bounds every request; a single unreachable server must
// not hang a scheduled run.
const DefaultTimeout = 30 * time.Second

// Config holds the connection settings for a PAM360 server.
type Config struct {
	// BaseURL is the server root, e.g. https://10.0.0.14:8282.
	BaseURL string
	// Token is the REST API token sent in the AUTHTOKEN header. It is
	// never written to logs.
	Token string
	// Timeout applies per request. Zero means DefaultTimeout.
	Timeout time.Duration
	// InsecureSkipVerify disables TLS verification. PAM360 ships with a
	// self-signed certificate, so field deployments frequently need this
	// or CACert.
	InsecureSkipVerify bool
	// CACert is a path to a PEM bundle to trust instead of the system pool.
	CACert string
}

// Client is a minimal client for the PAM360 REST API, covering only the
// endpoints the rotation run uses. Write bodies go out form-encoded as
// INPUT_DATA=<json> per the vendor's API convention.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pam360: server URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("pam360: API token is required")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{},
	}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("pam360: read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("pam360: parse CA certificate %s", cfg.CACert)
		}
		transport.TLSClientConfig.RootCAs = pool
	}

	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}, nil
}

// ListResources returns every resource visible to the API token.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	resp, err := c.do(ctx, http.MethodGet, "/resources", "list resources", nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &APIError{
			Op:      "list resources",
			Status:  resp.Operation.Result.Status,
			Message: resp.Operation.Result.Message,
		}
	}

	if len(resp.Operation.Details) == 0 {
		return nil, nil
	}
	var resources []Resource
	if err := json.Unmarshal(resp.Operation.Details, &resources); err != nil {
		return nil, fmt.Errorf("pam360: decode resource list: %w", err)
	}
	return resources, nil
}

// GetResourceIDByName resolves a resource name to its identifier. An empty
// ID with a nil error means the server answered but did not return an
// identifier; callers decide how fatal that is.
func (c *Client) GetResourceIDByName(ctx context.Context, name string) (ID, error) {
	path := "/resources/resourcename/" + url.PathEscape(name)
	resp, err := c.do(ctx, http.MethodGet, path, "resource lookup", nil)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", &APIError{
			Op:      "resource lookup",
			Status:  resp.Operation.Result.Status,
			Message: resp.Operation.Result.Message,
		}
	}

	var details resourceIDDetails
	if len(resp.Operation.Details) > 0 {
		if err := json.Unmarshal(resp.Operation.Details, &details); err != nil {
			return "", fmt.Errorf("pam360: decode resource lookup: %w", err)
		}
	}
	return details.ResourceID, nil
}

// CreateResource creates a resource with its first account bundled in and
// returns the server's result message. Creation responses do not reliably
// carry the new identifier; callers must re-resolve by name afterwards.
func (c *Client) CreateResource(ctx context.Context, req CreateResourceRequest) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/resources", "resource creation", req)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return resp.Operation.Result.Message, &APIError{
			Op:      "resource creation",
			Status:  resp.Operation.Result.Status,
			Message: resp.Operation.Result.Message,
		}
	}
	return resp.Operation.Result.Message, nil
}

// ListAccounts returns the accounts under a resource.
func (c *Client) ListAccounts(ctx context.Context, resourceID ID) ([]Account, error) {
	path := fmt.Sprintf("/resources/%s/accounts", url.PathEscape(resourceID.String()))
	resp, err := c.do(ctx, http.MethodGet, path, "account listing", nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &APIError{
			Op:      "account listing",
			Status:  resp.Operation.Result.Status,
			Message: resp.Operation.Result.Message,
		}
	}

	var details accountListDetails
	if len(resp.Operation.Details) > 0 {
		if err := json.Unmarshal(resp.Operation.Details, &details); err != nil {
			return nil, fmt.Errorf("pam360: decode account list: %w", err)
		}
	}
	return details.Accounts, nil
}

// CreateAccount adds one account with the Strong password policy under the
// given resource.
func (c *Client) CreateAccount(ctx context.Context, resourceID ID, name, password string) error {
	details := createAccountsDetails{
		AccountList: []newAccount{{
			AccountName:           name,
			Password:              password,
			AccountPasswordPolicy: PolicyStrong,
		}},
	}
	path := fmt.Sprintf("/resources/%s/accounts", url.PathEscape(resourceID.String()))
	resp, err := c.do(ctx, http.MethodPost, path, "account creation", details)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return &APIError{
			Op:      "account creation",
			Status:  resp.Operation.Result.Status,
			Message: resp.Operation.Result.Message,
		}
	}
	return nil
}

// UpdateAccountPassword records a new password for an existing account.
// The LOCAL reset type tells the server the host already holds (or is
// about to hold) this password, so no remote push happens.
func (c *Client) UpdateAccountPassword(ctx context.Context, resourceID, accountID ID, password, reason string) error {
	details := updatePasswordDetails{
		NewPassword: password,
		ResetType:   resetTypeLocal,
		Reason:      reason,
	}
	path := fmt.Sprintf("/resources/%s/accounts/%s/password",
		url.PathEscape(resourceID.String()), url.PathEscape(accountID.String()))
	resp, err := c.do(ctx, http.MethodPut, path, "password update", details)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return &APIError{
			Op:      "password update",
			Status:  resp.Operation.Result.Status,
			Message: resp.Operation.Result.Message,
		}
	}
	return nil
}

// ShareResource grants userID the given access level on the resource.
// The server upserts grants, so no existence check happens first.
func (c *Client) ShareResource(ctx context.Context, resourceID ID, userID, accessType string) error {
	path := fmt.Sprintf("/resources/%s/share", url.PathEscape(resourceID.String()))
	return c.share(ctx, path, userID, accessType)
}

// ShareAccount grants userID the given access level on a single account.
func (c *Client) ShareAccount(ctx context.Context, resourceID, accountID ID, userID, accessType string) error {
	path := fmt.Sprintf("/resources/%s/accounts/%s/share",
		url.PathEscape(resourceID.String()), url.PathEscape(accountID.String()))
	return c.share(ctx, path, userID, accessType)
}

func (c *Client) share(ctx context.Context, path, userID, accessType string) error {
	if !ValidAccessType(accessType) {
		return fmt.Errorf("pam360: invalid access type %q", accessType)
	}
	details := shareDetails{AccessType: accessType, UserID: userID}
	resp, err := c.do(ctx, http.MethodPut, path, "share grant", details)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return &APIError{
			Op:      "share grant",
			Status:  resp.Operation.Result.Status,
			Message: resp.Operation.Result.Message,
		}
	}
	return nil
}

// do issues one request and decodes the response envelope. details, when
// non-nil, is wrapped in {"operation":{"Details":...}} and form-encoded as
// INPUT_DATA. Failure bodies are still JSON envelopes, so non-2xx statuses
// are decoded rather than discarded.
func (c *Client) do(ctx context.Context, method, path, op string, details interface{}) (*apiResponse, error) {
	var body io.Reader
	if details != nil {
		payload, err := json.Marshal(operationEnvelope{Operation: operationBody{Details: details}})
		if err != nil {
			return nil, fmt.Errorf("pam360: marshal %s request: %w", op, err)
		}
		form := url.Values{"INPUT_DATA": {string(payload)}}
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiBase+path, body)
	if err != nil {
		return nil, fmt.Errorf("pam360: build %s request: %w", op, err)
	}
	req.Header.Set("AUTHTOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pam360: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pam360: read %s response: %w", op, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}
	return &parsed, nil
}
