// Package crypto implements the Ed25519 signing primitives, canonical
// serialization, and on-disk identity material shared by every signed object
// in the trust chain.
package crypto

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PrivateKey wraps an Ed25519 private key with the derived public key and
// NodeId cached alongside it.
type PrivateKey struct {
	key    ed25519.PrivateKey
	pub    PublicKey
	nodeID NodeId
}

// PublicKey wraps an Ed25519 public key.
type PublicKey struct {
	key ed25519.PublicKey
}

// NodeId is the canonical identifier of a mesh participant: the base64
// (URL, unpadded) encoding of its Ed25519 public key.
type NodeId string

// GeneratePrivateKey creates a fresh Ed25519 keypair.
func GeneratePrivateKey() (*PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return newPrivateKey(priv, pub), nil
}

func newPrivateKey(priv ed25519.PrivateKey, pub ed25519.PublicKey) *PrivateKey {
	p := &PrivateKey{key: priv, pub: PublicKey{key: pub}}
	p.nodeID = p.pub.NodeId()
	return p
}

// PrivateKeyFromSeed reconstructs a private key from its 32-byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return newPrivateKey(priv, pub), nil
}

// Seed returns the 32-byte seed backing this key, suitable for persistence.
func (k *PrivateKey) Seed() []byte {
	return append([]byte(nil), k.key.Seed()...)
}

// PubKey returns the public half of the keypair.
func (k *PrivateKey) PubKey() PublicKey { return k.pub }

// NodeId returns the identifier derived from the public key.
func (k *PrivateKey) NodeId() NodeId { return k.nodeID }

// Sign produces a raw Ed25519 signature over msg.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.key, msg)
}

// StdlibKey exposes the underlying crypto/ed25519.PrivateKey for interop
// with libraries (e.g. golang-jwt's EdDSA signer) that expect the stdlib
// type directly rather than this package's Signer interface.
func (k *PrivateKey) StdlibKey() ed25519.PrivateKey {
	return k.key
}

// NodeId derives the canonical identifier for a public key: unpadded
// URL-base64 of the raw 32-byte Ed25519 key.
func (p PublicKey) NodeId() NodeId {
	return NodeId(base64.RawURLEncoding.EncodeToString(p.key))
}

// Bytes returns the raw public key bytes.
func (p PublicKey) Bytes() []byte { return append([]byte(nil), p.key...) }

// Verify checks sig over msg under this public key.
func (p PublicKey) Verify(msg, sig []byte) bool {
	if len(p.key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(p.key, msg, sig)
}

// PublicKeyFromNodeId decodes a NodeId back into its public key.
func PublicKeyFromNodeId(id NodeId) (PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(id))
	if err != nil {
		return PublicKey{}, fmt.Errorf("crypto: decode node id: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("crypto: node id decodes to %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return PublicKey{key: raw}, nil
}

type identityDisk struct {
	Seed string `json:"seed"`
}

// LoadOrCreateIdentity reads an Ed25519 seed from keys/node.key, generating
// and persisting one (plus keys/node.pub) if absent. Mirrors the node repo's
// LoadOrCreateIdentity but with Ed25519 material and the two-file layout of
// spec.md section 6 ("keys/node.key", "keys/node.pub").
func LoadOrCreateIdentity(path string) (*PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("crypto: identity path must be provided")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("crypto: create identity directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		return decodeIdentity(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("crypto: read identity file: %w", err)
	}

	priv, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := persistIdentity(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

func persistIdentity(path string, priv *PrivateKey) error {
	encoded := identityDisk{Seed: base64.StdEncoding.EncodeToString(priv.Seed())}
	payload, err := json.MarshalIndent(&encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("crypto: encode identity: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("crypto: persist identity: %w", err)
	}
	pubPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".pub"
	pubPayload := []byte(base64.StdEncoding.EncodeToString(priv.PubKey().Bytes()) + "\n")
	if err := os.WriteFile(pubPath, pubPayload, 0o644); err != nil {
		return fmt.Errorf("crypto: persist public key: %w", err)
	}
	return nil
}

func decodeIdentity(data []byte) (*PrivateKey, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("crypto: identity file empty")
	}
	var stored identityDisk
	if err := json.Unmarshal([]byte(trimmed), &stored); err != nil {
		return nil, fmt.Errorf("crypto: decode identity JSON: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(stored.Seed))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode identity seed: %w", err)
	}
	return PrivateKeyFromSeed(seed)
}
