package provision_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecore/provision"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	cfg := newTestConfig()
	ts := provision.NewTokenService(cfg, nil)

	profile := &provision.Profile{
		ID:          uuid.New(),
		AccountCode: "SUP-M2K9QJ-4821",
		Role:        provision.RoleSupplier,
	}

	token, err := ts.Generate(profile)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, profile.ID.String(), claims.UID)
	assert.Equal(t, profile.ID.String(), claims.Subject)
	assert.Equal(t, provision.RoleSupplier, claims.Role)
	assert.Equal(t, "SUP-M2K9QJ-4821", claims.AccountCode)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
}

func TestTokenServiceRejectsTampering(t *testing.T) {
	cfg := newTestConfig()
	ts := provision.NewTokenService(cfg, nil)

	token, err := ts.Generate(&provision.Profile{ID: uuid.New(), Role: provision.RoleBuyer})
	require.NoError(t, err)

	_, err = ts.Validate(token + "x")
	require.Error(t, err)

	otherCfg := newTestConfig()
	otherCfg.SigningKey = "a-different-key"
	_, err = provision.NewTokenService(otherCfg, nil).Validate(token)
	require.Error(t, err)
}

func TestTokenServiceNilProfile(t *testing.T) {
	ts := provision.NewTokenService(newTestConfig(), nil)
	_, err := ts.Generate(nil)
	require.Error(t, err)
}
