package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAllowlistedAcceptsKnownFields(t *testing.T) {
	for _, key := range []string{"service", "env", "message", "severity", "timestamp", "error", "reason", "component", "event_kind"} {
		require.True(t, IsAllowlisted(key), "expected %q to be allowlisted", key)
	}
}

func TestIsAllowlistedRejectsSensitiveFields(t *testing.T) {
	for _, key := range []string{"node_id", "public_key", "endpoint", "signature", "pop_signature"} {
		require.False(t, IsAllowlisted(key), "expected %q to not be allowlisted", key)
	}
}

func TestMaskValuePassesThroughAllowlistedFields(t *testing.T) {
	require.Equal(t, "mesh-authority", MaskValue("component", "mesh-authority"))
}

func TestMaskValueRedactsSensitiveFields(t *testing.T) {
	require.Equal(t, RedactedValue, MaskValue("public_key", "ed25519:deadbeef"))
}

func TestMaskFieldBuildsAttrWithMaskedValue(t *testing.T) {
	attr := MaskField("signature", "sig-bytes")
	require.Equal(t, "signature", attr.Key)
	require.Equal(t, RedactedValue, attr.Value.String())
}

func TestRedactionAllowlistIsSortedAndComplete(t *testing.T) {
	require.Equal(t, []string{
		"component", "env", "error", "event_kind", "message",
		"reason", "service", "severity", "timestamp",
	}, RedactionAllowlist())
}
