package node

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"genesismesh/crypto"
	"genesismesh/rbac"
	"genesismesh/routing"
	"genesismesh/trust"
)

func TestErrorKindMapsRoutingSentinels(t *testing.T) {
	require.Equal(t, "NoRoute", errorKind(routing.ErrNoRoute))
	require.Equal(t, "TtlExpired", errorKind(routing.ErrTTLExceeded))
	require.Equal(t, "ReplayDetected", errorKind(routing.ErrDuplicatePayload))
}

func TestErrorKindMapsRbacAndTrustSentinels(t *testing.T) {
	require.Equal(t, "UnauthorizedRole", errorKind(rbac.ErrUnauthorizedRole))
	require.Equal(t, "ReplayDetected", errorKind(rbac.ErrReplayed))
	require.Equal(t, "ExpiredCert", errorKind(trust.ErrCertExpired))
	require.Equal(t, "RevokedCert", errorKind(trust.ErrCertRevoked))
}

func TestErrorKindFallsBackToCryptoKindOf(t *testing.T) {
	require.Equal(t, "BadSignature", errorKind(crypto.ErrBadSignature))
}

func TestErrorKindDefaultsToInternalForUnknownErrors(t *testing.T) {
	require.Equal(t, "Internal", errorKind(errors.New("something unrelated")))
}

func TestErrorKindEmptyForNilError(t *testing.T) {
	require.Equal(t, "", errorKind(nil))
}
