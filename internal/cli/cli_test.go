package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/pelada/internal/auth"
	"github.com/kirinyoku/pelada/internal/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setOfflineEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("EVENT_TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "pelada dev"))
}

func TestToken_RequiresMember(t *testing.T) {
	_, err := run(t, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--member")
}

func TestToken_RejectsUnknownRole(t *testing.T) {
	_, err := run(t, "token", "--member", "3", "--role", "owner")
	require.Error(t, err)
}

func TestToken_IssuesValidToken(t *testing.T) {
	setOfflineEnv(t)
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := run(t, "token", "--member", "7", "--role", "admin")
	require.NoError(t, err)

	claims, err := auth.New("cli-secret", 0).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.MemberID)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
}

func TestMigrate_NeedsPostgres(t *testing.T) {
	setOfflineEnv(t)

	_, err := run(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=postgres")
}

func TestPromote_EmptyStore(t *testing.T) {
	setOfflineEnv(t)

	_, err := run(t, "promote", "--threshold", "2")
	require.NoError(t, err)
}

func TestPromote_NegativeThreshold(t *testing.T) {
	setOfflineEnv(t)

	_, err := run(t, "promote", "--threshold", "-1")
	require.Error(t, err)
}

func TestBilling_FeeNotSet(t *testing.T) {
	setOfflineEnv(t)
	t.Setenv("MONTHLY_FEE_CENTS", "0")

	_, err := run(t, "billing", "--period", "2026-10")
	require.Error(t, err)
}
