// Package trust implements the signed-object schemas of the mesh's trust
// chain: the genesis block, join certificates, policy manifests, control
// messages, and the certificate revocation list. Every object here follows
// the node repo's handshake.go split between an unsigned "payload" struct
// and a signed envelope: sign/verify always operate over
// crypto.Canonicalize(payload), never over the envelope with its signature
// fields attached.
package trust

import (
	"time"

	"genesismesh/crypto"
)

// Signature binds a signature to the key that produced it, so verifiers can
// look up the right public key without guessing.
type Signature struct {
	KeyID     string `json:"keyId"`
	Signature string `json:"sig"` // base64 standard encoding of the raw Ed25519 signature
}

// AuthorityKey describes a Network Authority signing key and its validity
// window, embedded in the genesis block and extendable via signed rotation.
type AuthorityKey struct {
	PublicKey string    `json:"publicKey"` // NodeId-style base64 encoding
	ValidFrom time.Time `json:"validFrom"`
	ValidTo   time.Time `json:"validTo"`
}

// PolicyManifestRef points at the out-of-band published policy manifest.
type PolicyManifestRef struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

// BootstrapAnchor is a well-known peer listed in genesis used to join the
// mesh before any gossip-learned peers exist.
type BootstrapAnchor struct {
	NodeID   crypto.NodeId `json:"nodeId"`
	Endpoint string        `json:"endpoint"`
}

// GenesisPayload holds every genesis field EXCEPT signatures — this is what
// gets canonicalized and signed by the Root Sovereign key.
type GenesisPayload struct {
	NetworkName        string              `json:"networkName"`
	Version             string              `json:"version"`
	RootPublicKey       string              `json:"rootPublicKey"`
	NetworkAuthority    AuthorityKey        `json:"networkAuthority"`
	AllowedCryptoSuites []string            `json:"allowedCryptoSuites"`
	AllowedTransports   []string            `json:"allowedTransports"`
	PolicyManifestRef   PolicyManifestRef   `json:"policyManifestRef"`
	BootstrapAnchors    []BootstrapAnchor   `json:"bootstrapAnchors"`
}

// GenesisBlock is the signed network constitution embedded in every node.
type GenesisBlock struct {
	GenesisPayload
	Signatures []Signature `json:"signatures"`
}

// NetworkID identifies a mesh by (name, version) per spec.md section 3.
func (g *GenesisBlock) NetworkID() string {
	return g.NetworkName + "@" + g.Version
}

// JoinCertificatePayload is the signed content of a join certificate.
type JoinCertificatePayload struct {
	SubjectPubKey string    `json:"subjectPubKey"`
	Roles         []string  `json:"roles"`
	Scopes        []string  `json:"scopes"`
	NetworkID     string    `json:"networkId"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Serial        uint64    `json:"serial"`
	IssuerKeyID   string    `json:"issuerKeyId"`
}

// JoinCertificate is a short-lived credential binding a node's public key to
// a role set, signed by the Network Authority.
type JoinCertificate struct {
	JoinCertificatePayload
	Signature string `json:"signature"`
}

// Subject returns the certificate holder's NodeId.
func (c *JoinCertificate) Subject() crypto.NodeId {
	return crypto.NodeId(c.SubjectPubKey)
}

// RoutingPolicy captures the routing-relevant fields of a policy manifest.
type RoutingPolicy struct {
	PreferredTransports []string `json:"preferredTransports"`
	MaxHops             int      `json:"maxHops"`
}

// PolicyManifestPayload is the signed content of a policy manifest.
type PolicyManifestPayload struct {
	PolicyID         uint64        `json:"policyId"`
	IssuedAt         time.Time     `json:"issuedAt"`
	IssuedBy         string        `json:"issuedBy"`
	MinClientVersion string        `json:"minClientVersion"`
	AllowedPorts     []int         `json:"allowedPorts"`
	AllowedServices  []string      `json:"allowedServices"`
	Routing          RoutingPolicy `json:"routing"`
}

// PolicyManifest is a signed set of operational parameters for the mesh.
type PolicyManifest struct {
	PolicyManifestPayload
	Signature string `json:"signature"`
}

// ControlKind enumerates the administrative commands a control message may
// carry.
type ControlKind string

const (
	ControlPolicyUpdate      ControlKind = "PolicyUpdate"
	ControlRevoke            ControlKind = "Revoke"
	ControlShutdown          ControlKind = "Shutdown"
	ControlEmergencyCrlPush  ControlKind = "EmergencyCrlPush"
	ControlPing              ControlKind = "Ping"
)

// ControlMessagePayload is the signed content of a control message.
type ControlMessagePayload struct {
	MessageID  string          `json:"messageId"`
	Kind       ControlKind     `json:"kind"`
	Scope      string          `json:"scope"`
	Payload    []byte          `json:"payload"`
	IssuedAt   time.Time       `json:"issuedAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	IssuerCert JoinCertificate `json:"issuerCert"`
}

// ControlMessage is a signed administrative command.
type ControlMessage struct {
	ControlMessagePayload
	Signature string `json:"signature"`
}

// Revocation is one entry of a CRL.
type Revocation struct {
	SubjectPubKey string    `json:"subjectPubKey"`
	Reason        string    `json:"reason"`
	RevokedAt     time.Time `json:"revokedAt"`
}

// CRLPayload is the signed content of a certificate revocation list.
type CRLPayload struct {
	Sequence    uint64       `json:"sequence"`
	IssuedAt    time.Time    `json:"issuedAt"`
	IssuerKeyID string       `json:"issuerKeyId"`
	Revocations []Revocation `json:"revocations"`
}

// CRL is a signed, monotonically-sequenced revocation list.
type CRL struct {
	CRLPayload
	Signature string `json:"signature"`
}

// Revokes reports whether subject appears in the revocation list.
func (c *CRL) Revokes(subject crypto.NodeId) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Revocations {
		if r.SubjectPubKey == string(subject) {
			return true
		}
	}
	return false
}
