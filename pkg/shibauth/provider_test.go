package shibauth

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyProvider_CurrentAndReplace(t *testing.T) {
	first := testPolicy()
	provider := NewPolicyProvider(first)
	assert.Same(t, first, provider.Current())

	second := testPolicy()
	second.GroupsAuthoritative = false
	provider.Replace(second)
	assert.Same(t, second, provider.Current())
}

func TestPolicyProvider_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validPolicyYAML), 0o644))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	provider := NewPolicyProvider(policy)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, provider.Watch(ctx, path, logger))

	// A valid edit gets picked up.
	require.NoError(t, os.WriteFile(path, []byte(validPolicyYAML+"groups_authoritative: false\n"), 0o644))
	require.Eventually(t, func() bool {
		return !provider.Current().GroupsAuthoritative
	}, 5*time.Second, 10*time.Millisecond)

	// An invalid edit keeps the previous policy active.
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.False(t, provider.Current().GroupsAuthoritative)
	assert.NotEmpty(t, provider.Current().AuthorizedIDPs)
}

func TestExtractAssertion(t *testing.T) {
	policy := testPolicy()

	req := loginRequest("/auth/shib/login", map[string]string{
		DefaultIDPHeader: testIdP,
		"Mail":           testUsername,
		"Ou":             "foo;bar",
	})
	assertion := ExtractAssertion(req, policy)

	assert.Equal(t, testIdP, assertion.IdP)
	assert.Equal(t, testUsername, assertion.Values["Mail"])
	_, present := assertion.Values["Givenname"]
	assert.False(t, present)
	require.NotNil(t, assertion.RawGroups)
	assert.Equal(t, "foo;bar", *assertion.RawGroups)
}

func TestExtractAssertion_NoGroupHeader(t *testing.T) {
	policy := testPolicy()
	req := loginRequest("/auth/shib/login", map[string]string{
		DefaultIDPHeader: testIdP,
		"Mail":           testUsername,
	})
	assertion := ExtractAssertion(req, policy)
	assert.Nil(t, assertion.RawGroups)
}
