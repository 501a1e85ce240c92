package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/outbox/uploader"
	"kycflow/internal/platform/config"
	"kycflow/internal/preferences"
)

func TestResolveDeviceIDIsStable(t *testing.T) {
	ctx := context.Background()
	prefs := preferences.NewFile(filepath.Join(t.TempDir(), "prefs.yaml"))

	first, err := resolveDeviceID(ctx, "", prefs)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := resolveDeviceID(ctx, "", prefs)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	configured, err := resolveDeviceID(ctx, "device-from-env", prefs)
	require.NoError(t, err)
	assert.Equal(t, "device-from-env", configured)
}

func TestBuildUploader(t *testing.T) {
	up, release, err := buildUploader(context.Background(), config.Sync{Transport: "http", BackendURL: "http://backend", JWTSigningKey: "k"}, "device-1", slog.Default())
	require.NoError(t, err)
	defer release()
	assert.IsType(t, &uploader.HTTP{}, up)

	_, _, err = buildUploader(context.Background(), config.Sync{Transport: "carrier-pigeon"}, "device-1", slog.Default())
	assert.Error(t, err)

	_, _, err = buildUploader(context.Background(), config.Sync{Transport: "kafka"}, "device-1", slog.Default())
	assert.Error(t, err, "kafka without brokers")
}
