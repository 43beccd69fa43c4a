package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubbridge/internal/hub"
)

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Empty(t, s.GetHubs())
	assert.Equal(t, 5000, s.GetSettings().PollIntervalMs)
	assert.Equal(t, 8000, s.GetSettings().DirectPort)

	_, ok := s.ActiveHub()
	assert.False(t, ok)
}

func TestAddHubPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	s, err := Open(path)
	require.NoError(t, err)

	p, err := s.AddHub(HubProfile{Name: "home", BaseURL: "https://graph.api.smartthings.com", AppID: "APP", AccessToken: "TOK"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, hub.PlatformSmartThings, p.Platform)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := Open(path)
	require.NoError(t, err)
	got, ok := reopened.FindHub(p.ID)
	require.True(t, ok)
	assert.Equal(t, p, got)

	byName, ok := reopened.FindHub("home")
	require.True(t, ok)
	assert.Equal(t, p.ID, byName.ID)
}

func TestAddHubRejectsDuplicateName(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	_, err = s.AddHub(HubProfile{Name: "home"})
	require.NoError(t, err)
	_, err = s.AddHub(HubProfile{Name: "home"})
	assert.ErrorIs(t, err, ErrDuplicateHub)
}

func TestUpdateHubConnection(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	p, err := s.AddHub(HubProfile{Name: "home", AppID: "APP"})
	require.NoError(t, err)

	updated, err := s.UpdateHubConnection("home", "192.168.1.50", true)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", updated.HubIP)
	assert.True(t, updated.UseLocal)

	cfg := updated.Config()
	assert.Equal(t, hub.Config{AppID: "APP", HubIP: "192.168.1.50", UseLocal: true, Platform: hub.PlatformSmartThings}, cfg)

	_, err = s.UpdateHubConnection("nope", "1.2.3.4", false)
	assert.ErrorIs(t, err, ErrHubNotFound)

	assert.Equal(t, p.ID, updated.ID)
}

func TestActiveHubAndDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	first, err := s.AddHub(HubProfile{Name: "first"})
	require.NoError(t, err)
	second, err := s.AddHub(HubProfile{Name: "second"})
	require.NoError(t, err)

	active, ok := s.ActiveHub()
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)

	settings := s.GetSettings()
	settings.ActiveHub = "second"
	require.NoError(t, s.SetSettings(settings))
	active, _ = s.ActiveHub()
	assert.Equal(t, second.ID, active.ID)

	require.NoError(t, s.DeleteHub(second.ID))
	assert.Empty(t, s.GetSettings().ActiveHub)
	assert.ErrorIs(t, s.DeleteHub(second.ID), ErrHubNotFound)
	assert.Len(t, s.GetHubs(), 1)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))
	_, err := Open(path)
	assert.Error(t, err)
}
