package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"hubbridge/internal/hub"
)

var (
	ErrHubNotFound  = errors.New("hub profile not found")
	ErrDuplicateHub = errors.New("hub profile name already in use")
)

// HubProfile is everything needed to build a hub.Client for one
// installation.
type HubProfile struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	BaseURL     string       `json:"baseUrl"`
	AppID       string       `json:"appId"`
	AccessToken string       `json:"accessToken"`
	HubIP       string       `json:"hubIp,omitempty"`
	UseLocal    bool         `json:"useLocal"`
	Platform    hub.Platform `json:"platform,omitempty"`
}

func (p HubProfile) Config() hub.Config {
	return hub.Config{
		BaseURL:     p.BaseURL,
		AppID:       p.AppID,
		AccessToken: p.AccessToken,
		HubIP:       p.HubIP,
		UseLocal:    p.UseLocal,
		Platform:    p.Platform,
	}
}

type Settings struct {
	PollIntervalMs int    `json:"pollIntervalMs"`
	DirectIP       string `json:"directIp,omitempty"`
	DirectPort     int    `json:"directPort"`
	LogLevel       string `json:"logLevel,omitempty"`
	ActiveHub      string `json:"activeHub,omitempty"`
}

type Config struct {
	Hubs     []HubProfile `json:"hubs"`
	Settings Settings     `json:"settings"`
}

type Store struct {
	mu       sync.Mutex
	config   Config
	filePath string
}

// New opens the store at the per-user default location.
func New() (*Store, error) {
	p, err := configPath()
	if err != nil {
		return nil, err
	}
	return Open(p)
}

// Open loads the store at path. A missing file yields default settings.
func Open(path string) (*Store, error) {
	s := &Store{
		filePath: path,
		config: Config{
			Settings: Settings{
				PollIntervalMs: 5000,
				DirectPort:     8000,
			},
		},
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	return s, nil
}

func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) GetHubs() []HubProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HubProfile(nil), s.config.Hubs...)
}

// FindHub looks a profile up by id or name.
func (s *Store) FindHub(ref string) (HubProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(ref)
	if i < 0 {
		return HubProfile{}, false
	}
	return s.config.Hubs[i], true
}

// ActiveHub returns the profile named in settings, or the first one.
func (s *Store) ActiveHub() (HubProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(s.config.Settings.ActiveHub); i >= 0 {
		return s.config.Hubs[i], true
	}
	if len(s.config.Hubs) > 0 {
		return s.config.Hubs[0], true
	}
	return HubProfile{}, false
}

// AddHub stores a new profile and assigns it an id.
func (s *Store) AddHub(p HubProfile) (HubProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Name != "" && s.indexLocked(p.Name) >= 0 {
		return HubProfile{}, fmt.Errorf("%w: %s", ErrDuplicateHub, p.Name)
	}
	p.ID = uuid.New().String()
	if p.Name == "" {
		p.Name = p.ID[:8]
	}
	if p.Platform == "" {
		p.Platform = hub.PlatformSmartThings
	}
	s.config.Hubs = append(s.config.Hubs, p)
	return p, s.saveLocked()
}

// UpdateHubConnection records a new LAN address for the profile, mirroring
// hub.Client.UpdateConnection.
func (s *Store) UpdateHubConnection(ref, hubIP string, useLocal bool) (HubProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(ref)
	if i < 0 {
		return HubProfile{}, fmt.Errorf("%w: %s", ErrHubNotFound, ref)
	}
	s.config.Hubs[i].HubIP = hubIP
	s.config.Hubs[i].UseLocal = useLocal
	return s.config.Hubs[i], s.saveLocked()
}

func (s *Store) DeleteHub(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(ref)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrHubNotFound, ref)
	}
	removed := s.config.Hubs[i]
	s.config.Hubs = append(s.config.Hubs[:i], s.config.Hubs[i+1:]...)
	if s.config.Settings.ActiveHub == removed.ID || s.config.Settings.ActiveHub == removed.Name {
		s.config.Settings.ActiveHub = ""
	}
	return s.saveLocked()
}

func (s *Store) GetSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Settings
}

func (s *Store) SetSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Settings = settings
	return s.saveLocked()
}

func (s *Store) indexLocked(ref string) int {
	if ref == "" {
		return -1
	}
	for i, h := range s.config.Hubs {
		if h.ID == ref || h.Name == ref {
			return i
		}
	}
	return -1
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, &s.config)
}

// saveLocked marshals config and writes atomically. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Access tokens live in here.
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

func configPath() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "hubbridge", "config.json"), nil
}
