// Package clients provides a typed HTTP client for the record access API.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medicrypt/record-access-backend/api"
	"github.com/medicrypt/record-access-backend/cryptoutils"
	"github.com/medicrypt/record-access-backend/interfaces"
	"github.com/medicrypt/record-access-backend/sigauth"
)

// Client talks to a record access server. Login stores the session token on
// the client; all other calls require it.
type Client struct {
	// ServerAddr is the base URL of the record access server.
	ServerAddr string

	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	token string
}

// Login signs a fresh challenge with the keypair and stores the issued
// session token.
func (c *Client) Login(ctx context.Context, kp *cryptoutils.IdentityKeypair) (*api.LoginResponse, error) {
	nonce := fmt.Sprintf("%d", time.Now().UnixNano())
	message := sigauth.BuildChallenge(kp.Identity, time.Now(), nonce)

	var resp api.LoginResponse
	err := c.postJSON(ctx, "/api/auth/login", api.LoginRequest{
		WalletAddress: kp.Identity.String(),
		Message:       message,
		Signature:     kp.SignMessage([]byte(message)),
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.token = resp.Token
	return &resp, nil
}

// SetToken installs a previously issued session token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// UploadBlob stores ciphertext and returns its content address.
func (c *Client) UploadBlob(ctx context.Context, ciphertext []byte) (*api.UploadBlobResponse, error) {
	var resp api.UploadBlobResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/blobs", "application/octet-stream", ciphertext, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadBlob retrieves ciphertext by content address.
func (c *Client) DownloadBlob(ctx context.Context, contentAddress string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ServerAddr+"/api/blobs/"+contentAddress, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request blob endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	return io.ReadAll(resp.Body)
}

// RegisterRecord registers an uploaded blob in the authorization registry.
func (c *Client) RegisterRecord(ctx context.Context, req api.RegisterRecordRequest) (*interfaces.Record, error) {
	var record interfaces.Record
	if err := c.postJSON(ctx, "/api/records", req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeactivateRecord performs the one-way record deactivation.
func (c *Client) DeactivateRecord(ctx context.Context, record interfaces.EntityAddress) (*interfaces.Record, error) {
	var result interfaces.Record
	path := fmt.Sprintf("/api/records/%s/deactivate", record)
	if err := c.postJSON(ctx, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GrantAccess shares a record with a requester.
func (c *Client) GrantAccess(ctx context.Context, record interfaces.EntityAddress, req api.GrantAccessRequest) (*interfaces.Grant, error) {
	var grant interfaces.Grant
	path := fmt.Sprintf("/api/records/%s/grants", record)
	if err := c.postJSON(ctx, path, req, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// RevokeAccess revokes a requester's grant.
func (c *Client) RevokeAccess(ctx context.Context, record interfaces.EntityAddress, requester interfaces.Identity) (*interfaces.Grant, error) {
	var grant interfaces.Grant
	path := fmt.Sprintf("/api/records/%s/grants/%s/revoke", record, requester)
	if err := c.postJSON(ctx, path, nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// ListOwnedRecords returns the caller's active records.
func (c *Client) ListOwnedRecords(ctx context.Context) ([]interfaces.Record, error) {
	var records []interfaces.Record
	if err := c.getJSON(ctx, "/api/records", &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListSharedRecords returns records shared with the caller.
func (c *Client) ListSharedRecords(ctx context.Context) ([]interfaces.SharedRecord, error) {
	var shared []interfaces.SharedRecord
	if err := c.getJSON(ctx, "/api/shared", &shared); err != nil {
		return nil, err
	}
	return shared, nil
}

// ListAllRecords returns every record projection. Requires the auditor role.
func (c *Client) ListAllRecords(ctx context.Context) ([]interfaces.Record, error) {
	var records []interfaces.Record
	if err := c.getJSON(ctx, "/api/audit/records", &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload, result any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
	}
	return c.doRequest(ctx, http.MethodPost, path, "application/json", body, result)
}

func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	return c.doRequest(ctx, http.MethodGet, path, "", nil, result)
}

func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("could not parse response from %s: %w", path, err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
