package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:5001/api", cfg.APIURL)
	require.Equal(t, 120*time.Second, cfg.RequestTimeout)
	require.Equal(t, 2, cfg.RetryMax)
	require.Equal(t, 3*time.Second, cfg.RetryDelay)
	require.Equal(t, ModeTalk, cfg.Mode)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, 24*time.Hour, cfg.SessionTTL)
	require.Equal(t, 4000, cfg.MaxMessageLength)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHATAI_API_URL", "https://example.test/api/")
	t.Setenv("CHATAI_MODE", "Stream")
	t.Setenv("CHATAI_RETRY_DELAY", "250ms")
	t.Setenv("CHATAI_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://example.test/api", cfg.APIURL)
	require.Equal(t, ModeStream, cfg.Mode)
	require.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	require.Equal(t, StoreMemory, cfg.Store)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("CHATAI_MODE", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MODE")
}

func TestValidateTimeouts(t *testing.T) {
	cfg := Config{
		APIURL:         "http://x",
		Mode:           ModeTalk,
		Store:          StoreMemory,
		RequestTimeout: 0,
		ProxyTimeout:   time.Second,
		SessionTTL:     time.Hour,
	}
	require.Error(t, cfg.Validate())

	cfg.RequestTimeout = time.Second
	require.NoError(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	l := NewLogger("debug", "json")
	require.Equal(t, logrus.DebugLevel, l.GetLevel())
	_, ok := l.Formatter.(*logrus.JSONFormatter)
	require.True(t, ok)

	l = NewLogger("nonsense", "text")
	require.Equal(t, logrus.InfoLevel, l.GetLevel())
}
