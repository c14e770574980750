package trust

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LoadGenesisBlock reads and validates a genesis block from disk, mirroring
// the node repo's LoadGenesisSpec: strict decoding (unknown fields reject),
// structural validation, then signature verification, in that order so a
// malformed file never reaches the crypto layer.
func LoadGenesisBlock(path string) (*Chain, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trust: read genesis file: %w", err)
	}
	return ParseGenesisBlock(raw)
}

// ParseGenesisBlock decodes and verifies a genesis block from raw JSON bytes.
func ParseGenesisBlock(raw []byte) (*Chain, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var g GenesisBlock
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("trust: decode genesis block: %w", err)
	}
	if err := validateGenesis(&g); err != nil {
		return nil, err
	}
	return NewChain(&g)
}

func validateGenesis(g *GenesisBlock) error {
	if g.NetworkName == "" {
		return fmt.Errorf("trust: genesis missing networkName")
	}
	if g.Version == "" {
		return fmt.Errorf("trust: genesis missing version")
	}
	if g.RootPublicKey == "" {
		return fmt.Errorf("trust: genesis missing rootPublicKey")
	}
	if g.NetworkAuthority.PublicKey == "" {
		return fmt.Errorf("trust: genesis missing networkAuthority.publicKey")
	}
	if !g.NetworkAuthority.ValidFrom.Before(g.NetworkAuthority.ValidTo) {
		return fmt.Errorf("trust: networkAuthority validFrom must precede validTo")
	}
	if !g.NetworkAuthority.ValidTo.After(time.Now()) {
		return fmt.Errorf("trust: networkAuthority validity window has already expired")
	}
	if len(g.AllowedCryptoSuites) == 0 {
		return fmt.Errorf("trust: genesis must list at least one allowed crypto suite")
	}
	if len(g.AllowedTransports) == 0 {
		return fmt.Errorf("trust: genesis must list at least one allowed transport")
	}
	for i, anchor := range g.BootstrapAnchors {
		if anchor.NodeID == "" || anchor.Endpoint == "" {
			return fmt.Errorf("trust: bootstrapAnchors[%d] missing nodeId or endpoint", i)
		}
	}
	return nil
}
