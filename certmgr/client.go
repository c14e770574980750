// Package certmgr manages the lifecycle of this node's own JoinCertificate:
// renewing it from the Network Authority ahead of expiry, backing off on
// failure, and triggering a graceful shutdown if renewal cannot succeed
// before the certificate lapses. The Network Authority is consumed as an
// external HTTP service — spec.md section 4.1 places certificate issuance
// outside the mesh's own trust-chain code, so this package owns only the
// client side of that relationship, in the same context-based
// Authorize/Authenticate style network/auth.go uses for the node repo's own
// inbound auth checks.
package certmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"genesismesh/crypto"
	"genesismesh/trust"
)

// AuthorityClient talks to the Network Authority's renewal endpoint.
type AuthorityClient struct {
	baseURL string
	http    *http.Client
	signer  *crypto.PrivateKey
}

// NewAuthorityClient builds a client against baseURL (e.g.
// "https://na.example-mesh.net"), using signer to construct a
// Proof-of-Possession token per request.
func NewAuthorityClient(baseURL string, signer *crypto.PrivateKey, timeout time.Duration) *AuthorityClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AuthorityClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
	}
}

// popClaims is the Proof-of-Possession JWT this node presents to prove it
// holds the private key behind the certificate it is renewing, without
// requiring a second, separate credential from the Network Authority.
type popClaims struct {
	jwt.RegisteredClaims
	NodeID string `json:"nodeId"`
}

func (c *AuthorityClient) buildPoP(now time.Time) (string, error) {
	claims := popClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			Subject:   string(c.signer.NodeId()),
		},
		NodeID: string(c.signer.NodeId()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(c.signer.StdlibKey())
}

// RenewRequest is the body posted to the Network Authority's renewal
// endpoint, per spec.md section 6's `POST /renew` contract.
type RenewRequest struct {
	CurrentCert  trust.JoinCertificate `json:"current_cert"`
	PopSignature string                `json:"pop_signature"`
}

// RenewResponse carries the freshly issued certificate.
type RenewResponse struct {
	Certificate trust.JoinCertificate `json:"certificate"`
}

// Renew posts a renewal request authenticated by a PoP token and returns
// the new certificate.
func (c *AuthorityClient) Renew(ctx context.Context, current *trust.JoinCertificate) (*trust.JoinCertificate, error) {
	pop, err := c.buildPoP(time.Now())
	if err != nil {
		return nil, fmt.Errorf("certmgr: build proof-of-possession token: %w", err)
	}

	body, err := json.Marshal(RenewRequest{
		CurrentCert:  *current,
		PopSignature: pop,
	})
	if err != nil {
		return nil, fmt.Errorf("certmgr: marshal renewal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/renew", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("certmgr: build renewal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("certmgr: renewal request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("certmgr: renewal rejected: status %d: %s", resp.StatusCode, msg)
	}

	var out RenewResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("certmgr: decode renewal response: %w", err)
	}
	return &out.Certificate, nil
}

// JoinRequest is the body posted to the Network Authority's join endpoint
// when a node has no certificate yet.
type JoinRequest struct {
	NodePublicKey string   `json:"node_public_key"`
	Roles         []string `json:"roles"`
	ValidityHours int      `json:"validity_hours"`
	PopSignature  string   `json:"pop_signature"`
}

// Join requests a first JoinCertificate for this node's identity key,
// requesting roles and a validity window; the Network Authority decides
// whether to grant the requested roles.
func (c *AuthorityClient) Join(ctx context.Context, roles []string, validityHours int) (*trust.JoinCertificate, error) {
	pop, err := c.buildPoP(time.Now())
	if err != nil {
		return nil, fmt.Errorf("certmgr: build proof-of-possession token: %w", err)
	}

	body, err := json.Marshal(JoinRequest{
		NodePublicKey: string(c.signer.NodeId()),
		Roles:         roles,
		ValidityHours: validityHours,
		PopSignature:  pop,
	})
	if err != nil {
		return nil, fmt.Errorf("certmgr: marshal join request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/join", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("certmgr: build join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("certmgr: join request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("certmgr: join rejected: status %d: %s", resp.StatusCode, msg)
	}

	var out RenewResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("certmgr: decode join response: %w", err)
	}
	return &out.Certificate, nil
}
