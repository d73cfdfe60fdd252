package main

import (
	"bytes"
	"context"
	"testing"

	"companion-chat/internal/config"

	"github.com/stretchr/testify/require"
)

func TestSetup_GuestOnly(t *testing.T) {
	cfg := config.Client{LocalDBPath: t.TempDir() + "/xoe.db"}
	rt, err := setup(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.Nil(t, rt.remote)
	require.NotNil(t, rt.resolver)
	require.False(t, rt.resolver.DurableAvailable())
}

func TestSetup_AWSConfigErrorReleasesLocalStore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_PROFILE", "xoe-missing-profile")
	t.Setenv("AWS_CONFIG_FILE", dir+"/aws-config")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", dir+"/aws-credentials")

	db := dir + "/xoe.db"
	_, err := setup(context.Background(), config.Client{LocalDBPath: db, ParamPrefix: "/xoe"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "load AWS config")

	// The same database opens again once the failed setup released it.
	rt, err := setup(context.Background(), config.Client{LocalDBPath: db}, &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, rt.Close())
}
