package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/caregiver-booking/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app", "service.log")
	log, err := New("prod", config.Log{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("hold created")
	log.Debug("not written at info level")
	_ = log.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hold created"`)
	assert.NotContains(t, string(b), "not written")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("dev", config.Log{Level: "loud"})
	assert.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	assert.True(t, IsProduction("prod"))
	assert.False(t, IsProduction("dev"))
}
