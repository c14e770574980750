package trust

import (
	"encoding/base64"
	"time"

	"genesismesh/crypto"
)

// IssueJoinCertificate signs payload with the Network Authority's private
// key and returns the completed certificate.
func IssueJoinCertificate(signer crypto.Signer, payload JoinCertificatePayload) (*JoinCertificate, error) {
	sig, err := crypto.SignCanonical(signer, payload)
	if err != nil {
		return nil, err
	}
	return &JoinCertificate{
		JoinCertificatePayload: payload,
		Signature:              base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// IssuePolicyManifest signs payload with the Network Authority's private key.
func IssuePolicyManifest(signer crypto.Signer, payload PolicyManifestPayload) (*PolicyManifest, error) {
	sig, err := crypto.SignCanonical(signer, payload)
	if err != nil {
		return nil, err
	}
	return &PolicyManifest{
		PolicyManifestPayload: payload,
		Signature:             base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// IssueControlMessage signs payload with the issuing operator/admin's
// private key. The caller is responsible for embedding a valid
// JoinCertificate proving the issuer's role in payload.IssuerCert.
func IssueControlMessage(signer crypto.Signer, payload ControlMessagePayload) (*ControlMessage, error) {
	sig, err := crypto.SignCanonical(signer, payload)
	if err != nil {
		return nil, err
	}
	return &ControlMessage{
		ControlMessagePayload: payload,
		Signature:             base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifyControlMessage checks a control message's signature against the
// public key embedded in its own issuer certificate, and the issuer
// certificate itself against chain. It does not check RBAC capability —
// that is the rbac package's job.
func VerifyControlMessage(chain *Chain, now time.Time, msg *ControlMessage) error {
	if err := chain.VerifyCertificate(&msg.IssuerCert, now); err != nil {
		return err
	}
	issuerPub, err := decodeEd25519PubKey(msg.IssuerCert.SubjectPubKey)
	if err != nil {
		return err
	}
	sig, err := decodeSig(msg.Signature)
	if err != nil {
		return err
	}
	if now.Before(msg.IssuedAt) {
		return ErrCertNotYetValid
	}
	if now.After(msg.ExpiresAt) {
		return ErrCertExpired
	}
	return crypto.VerifyCanonical(issuerPub, msg.ControlMessagePayload, sig)
}

// IssueCRL signs payload with the Network Authority's private key.
func IssueCRL(signer crypto.Signer, payload CRLPayload) (*CRL, error) {
	sig, err := crypto.SignCanonical(signer, payload)
	if err != nil {
		return nil, err
	}
	return &CRL{
		CRLPayload: payload,
		Signature:  base64.StdEncoding.EncodeToString(sig),
	}, nil
}
