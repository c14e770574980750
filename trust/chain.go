package trust

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"genesismesh/crypto"
)

var (
	// ErrNoActiveAuthority is returned when no Network Authority key in the
	// genesis block (or its signed rotations) covers the requested instant.
	ErrNoActiveAuthority = errors.New("trust: no network authority key active at instant")
	// ErrCertNotYetValid mirrors crypto.ErrNotYetValid for the certificate window.
	ErrCertNotYetValid = errors.New("trust: certificate not yet valid")
	// ErrCertExpired mirrors crypto.ErrExpiredCert for the certificate window.
	ErrCertExpired = errors.New("trust: certificate expired")
	// ErrCertRevoked is returned when a certificate's subject appears in the
	// active CRL.
	ErrCertRevoked = errors.New("trust: certificate revoked")
	// ErrWrongNetwork is returned when a certificate names a network ID other
	// than the chain's own.
	ErrWrongNetwork = errors.New("trust: certificate issued for a different network")
)

// AuthorityRotation is a genesis-signed record extending network authority
// to a successor key, following the same payload/signature split as every
// other trust object. Rotations are appended out of band (e.g. delivered as
// a ControlMessage of kind PolicyUpdate scope "authority/rotate") and are
// verified against the ROOT key, never against the authority key itself —
// an authority can never re-mint its own successor.
type AuthorityRotationPayload struct {
	Predecessor string       `json:"predecessor"`
	Successor   AuthorityKey `json:"successor"`
}

type AuthorityRotation struct {
	AuthorityRotationPayload
	Signature string `json:"signature"`
}

// Chain holds a verified genesis block plus any authority rotations applied
// on top of it, and answers "is this certificate currently valid" per
// spec.md section 4.1: the issuing key must be an active Network Authority
// key at issuance time, now must fall within [issued_at, expires_at], and
// the subject must not appear in the current CRL.
type Chain struct {
	genesis     *GenesisBlock
	rootPub     crypto.PublicKey
	authorities []AuthorityKey
	crl         *CRL
}

// NewChain verifies genesis against its own embedded root public key and
// constructs a Chain. The genesis block is expected to already have passed
// LoadGenesisBlock (which performs the same check) — NewChain is exposed
// separately so tests can build a Chain from an in-memory block.
func NewChain(genesis *GenesisBlock) (*Chain, error) {
	rootPub, err := decodeEd25519PubKey(genesis.RootPublicKey)
	if err != nil {
		return nil, fmt.Errorf("trust: decode root public key: %w", err)
	}
	if err := verifyGenesisSignatures(genesis, rootPub); err != nil {
		return nil, err
	}
	return &Chain{
		genesis:     genesis,
		rootPub:     rootPub,
		authorities: []AuthorityKey{genesis.NetworkAuthority},
	}, nil
}

// NetworkID returns the (name, version) pair identifying this mesh.
func (c *Chain) NetworkID() string {
	return c.genesis.NetworkID()
}

// Genesis returns the underlying genesis block.
func (c *Chain) Genesis() *GenesisBlock {
	return c.genesis
}

// ApplyRotation verifies rot against the root key and, if valid, extends the
// set of recognized Network Authority keys.
func (c *Chain) ApplyRotation(rot *AuthorityRotation) error {
	sig, err := decodeSig(rot.Signature)
	if err != nil {
		return err
	}
	if err := crypto.VerifyCanonical(c.rootPub, rot.AuthorityRotationPayload, sig); err != nil {
		return err
	}
	c.authorities = append(c.authorities, rot.Successor)
	return nil
}

// UpdateCRL replaces the chain's view of the current revocation list. The
// crl package is responsible for verifying signature and sequence
// monotonicity before calling this — Chain trusts its caller here.
func (c *Chain) UpdateCRL(list *CRL) {
	c.crl = list
}

// authorityKeyFor returns the AuthorityKey whose validity window contains at,
// and whose public key matches keyID (base64 pubkey used as key id), or
// ErrNoActiveAuthority.
func (c *Chain) authorityKeyFor(keyID string, at time.Time) (AuthorityKey, error) {
	for _, ak := range c.authorities {
		if ak.PublicKey != keyID {
			continue
		}
		if at.Before(ak.ValidFrom) || at.After(ak.ValidTo) {
			continue
		}
		return ak, nil
	}
	return AuthorityKey{}, ErrNoActiveAuthority
}

// VerifyCertificate checks that cert was issued by an active Network
// Authority key, is within its validity window at now, targets this
// network, and is not revoked.
func (c *Chain) VerifyCertificate(cert *JoinCertificate, now time.Time) error {
	if cert.NetworkID != c.NetworkID() {
		return ErrWrongNetwork
	}
	if now.Before(cert.IssuedAt) {
		return ErrCertNotYetValid
	}
	if now.After(cert.ExpiresAt) {
		return ErrCertExpired
	}

	ak, err := c.authorityKeyFor(cert.IssuerKeyID, cert.IssuedAt)
	if err != nil {
		return err
	}
	issuerPub, err := decodeEd25519PubKey(ak.PublicKey)
	if err != nil {
		return fmt.Errorf("trust: decode authority public key: %w", err)
	}
	sig, err := decodeSig(cert.Signature)
	if err != nil {
		return err
	}
	if err := crypto.VerifyCanonical(issuerPub, cert.JoinCertificatePayload, sig); err != nil {
		return err
	}

	if c.crl.Revokes(cert.Subject()) {
		return ErrCertRevoked
	}
	return nil
}

// VerifyCRL checks that list was signed by an authority key active at
// list.IssuedAt. It does not check sequence monotonicity against any
// previously held CRL — that is the crl package's responsibility, since
// Chain has no memory of prior sequence numbers beyond the one CRL it
// currently holds.
func (c *Chain) VerifyCRL(list *CRL, now time.Time) error {
	ak, err := c.authorityKeyFor(list.IssuerKeyID, list.IssuedAt)
	if err != nil {
		return err
	}
	issuerPub, err := decodeEd25519PubKey(ak.PublicKey)
	if err != nil {
		return fmt.Errorf("trust: decode authority public key: %w", err)
	}
	sig, err := decodeSig(list.Signature)
	if err != nil {
		return err
	}
	return crypto.VerifyCanonical(issuerPub, list.CRLPayload, sig)
}

func verifyGenesisSignatures(g *GenesisBlock, rootPub crypto.PublicKey) error {
	if len(g.Signatures) == 0 {
		return crypto.ErrBadSignature
	}
	for _, sig := range g.Signatures {
		if sig.KeyID != g.RootPublicKey {
			continue
		}
		raw, err := decodeSig(sig.Signature)
		if err != nil {
			return err
		}
		return crypto.VerifyCanonical(rootPub, g.GenesisPayload, raw)
	}
	return crypto.ErrUnknownIssuer
}

func decodeSig(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrCanonicalization, err)
	}
	return raw, nil
}

func decodeEd25519PubKey(b64 string) (crypto.PublicKey, error) {
	return crypto.PublicKeyFromNodeId(crypto.NodeId(b64))
}
