package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPService talks to the key-share service over HTTP, one POST per RPC.
// Procedure names mirror the server's RPC router (keyShares.check,
// keyShares.get, keyShares.updateAuthShare, ...).
type HTTPService struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// NewHTTPService creates a client for the key-share service at baseURL.
func NewHTTPService(baseURL string, tokens TokenSource) *HTTPService {
	return &HTTPService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
	}
}

// SetHTTPClient replaces the underlying HTTP client, for tests and custom
// transports.
func (h *HTTPService) SetHTTPClient(c *http.Client) {
	if c != nil {
		h.client = c
	}
}

// call POSTs a JSON request to a procedure and decodes the JSON response
// into out (which may be nil for void procedures).
func (h *HTTPService) call(ctx context.Context, procedure string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", procedure, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/"+procedure, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", procedure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := h.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", procedure, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
	case http.StatusNotFound:
		return ErrShareNotFound
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logrus.WithFields(logrus.Fields{
			"function":  "call",
			"procedure": procedure,
			"status":    resp.StatusCode,
		}).Warn("Key-share service returned error status")
		return fmt.Errorf("%s: status %d: %s", procedure, resp.StatusCode, bytes.TrimSpace(payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", procedure, err)
	}
	return nil
}

// Check implements Service.
func (h *HTTPService) Check(ctx context.Context) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := h.call(ctx, "keyShares.check", nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Create implements Service.
func (h *HTTPService) Create(ctx context.Context, bundle SetupBundle) error {
	return h.call(ctx, "keyShares.create", bundle, nil)
}

// Share implements Service.
func (h *HTTPService) Share(ctx context.Context, kind MethodKind, credentialID string) (*EscrowedShare, error) {
	procedure := "keyShares.get"
	if kind == MethodPassword {
		procedure = "keyShares.getPasswordEncryption"
	}

	req := struct {
		Kind         MethodKind `json:"kind"`
		CredentialID string     `json:"credential_id,omitempty"`
	}{kind, credentialID}

	var share EscrowedShare
	if err := h.call(ctx, procedure, req, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

// PutShare implements Service, routing to the method-specific update
// procedure.
func (h *HTTPService) PutShare(ctx context.Context, share EscrowedShare) error {
	var procedure string
	switch share.Kind {
	case MethodAuth:
		procedure = "keyShares.updateAuthShare"
	case MethodRecovery:
		procedure = "keyShares.updateRecoveryShare"
	case MethodPassword:
		procedure = "keyShares.setPasswordEncryption"
	default:
		procedure = "keyShares.put"
	}
	return h.call(ctx, procedure, share, nil)
}

// RemoveShare implements Service.
func (h *HTTPService) RemoveShare(ctx context.Context, kind MethodKind, credentialID string) error {
	procedure := "keyShares.remove"
	if kind == MethodPassword {
		procedure = "keyShares.removePasswordEncryption"
	}

	req := struct {
		Kind         MethodKind `json:"kind"`
		CredentialID string     `json:"credential_id,omitempty"`
	}{kind, credentialID}

	return h.call(ctx, procedure, req, nil)
}

// AccountKeys implements Service.
func (h *HTTPService) AccountKeys(ctx context.Context) (*AccountKeys, error) {
	var keys AccountKeys
	if err := h.call(ctx, "keyShares.getAccountKeys", nil, &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

// Methods implements Service.
func (h *HTTPService) Methods(ctx context.Context) ([]MethodInfo, error) {
	var resp struct {
		Methods []MethodInfo `json:"methods"`
	}
	if err := h.call(ctx, "keyShares.listMethods", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Methods, nil
}

// Delete implements Service.
func (h *HTTPService) Delete(ctx context.Context) error {
	return h.call(ctx, "keyShares.delete", nil, nil)
}

// HasMethod reports whether a method of the given kind is registered.
func HasMethod(ctx context.Context, svc Service, kind MethodKind) (bool, error) {
	methods, err := svc.Methods(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range methods {
		if m.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

var _ Service = (*HTTPService)(nil)
var _ Service = (*MemoryService)(nil)
