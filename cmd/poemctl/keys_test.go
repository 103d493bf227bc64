package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/auth/apikey"
)

type fakeKeys struct {
	created   []string
	expiresAt *time.Time
	revoked   []string
}

func (f *fakeKeys) CreateKey(_ context.Context, name string, expiresAt *time.Time) (string, error) {
	f.created = append(f.created, name)
	f.expiresAt = expiresAt
	return "raw-key-" + name, nil
}

func (f *fakeKeys) RevokeKey(_ context.Context, rawKey string) error {
	if rawKey == "unknown" {
		return apikey.ErrInvalidKey
	}
	f.revoked = append(f.revoked, rawKey)
	return nil
}

func (f *fakeKeys) ListKeys(context.Context) ([]apikey.KeyInfo, error) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return []apikey.KeyInfo{{ID: "7", Name: "ops", CreatedAt: created}}, nil
}

func executeKeys(t *testing.T, ks *fakeKeys, args ...string) (string, error) {
	t.Helper()
	o := &options{
		timeout: time.Second,
		openKeys: func(context.Context, *options) (keyStore, func() error, error) {
			return ks, func() error { return nil }, nil
		},
	}
	root := &cobra.Command{Use: "poemctl", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(newKeysCmd(o))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"keys"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestKeysCreate(t *testing.T) {
	ks := &fakeKeys{}

	out, err := executeKeys(t, ks, "create", "--name", "ops")
	require.NoError(t, err)
	assert.Contains(t, out, "raw-key-ops")
	assert.Contains(t, out, "never")
	assert.Equal(t, []string{"ops"}, ks.created)
	assert.Nil(t, ks.expiresAt)

	_, err = executeKeys(t, ks, "create", "--name", "ci", "--expires-in", "24h")
	require.NoError(t, err)
	require.NotNil(t, ks.expiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *ks.expiresAt, time.Minute)

	_, err = executeKeys(t, ks, "create")
	assert.ErrorContains(t, err, "--name is required")
}

func TestKeysRevokeAndList(t *testing.T) {
	ks := &fakeKeys{}

	out, err := executeKeys(t, ks, "revoke", "abc")
	require.NoError(t, err)
	assert.Contains(t, out, "key revoked")
	assert.Equal(t, []string{"abc"}, ks.revoked)

	_, err = executeKeys(t, ks, "revoke", "unknown")
	assert.ErrorIs(t, err, apikey.ErrInvalidKey)

	out, err = executeKeys(t, ks, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ops")
	assert.Contains(t, out, "2024-01-02T03:04:05Z")
	assert.Contains(t, out, "1 active key(s)")
}
