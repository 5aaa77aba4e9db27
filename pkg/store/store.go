package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/corral/pkg/types"
)

const (
	eventsDirName   = "Events"
	composeFileName = "docker-compose.yml"
	peerDirName     = "peer"
)

// Store resolves and reads the on-disk configuration tree:
//
//	<root>/Events/<event>/docker-compose.yml
//	<root>/Events/<event>/<user>/docker-compose.yml
//	<root>/Events/<event>/<user>/peer/peer_<user>.conf
type Store struct {
	root string
}

// New creates a store rooted at the configuration directory
func New(configDir string) *Store {
	return &Store{root: configDir}
}

// Root returns the configuration directory
func (s *Store) Root() string {
	return s.root
}

// EventsDir returns the directory that holds all event trees
func (s *Store) EventsDir() string {
	return filepath.Join(s.root, eventsDirName)
}

// EventDir returns the directory of one event
func (s *Store) EventDir(event string) string {
	return filepath.Join(s.EventsDir(), event)
}

// EventFile returns the path to an event's compose descriptor
func (s *Store) EventFile(event string) string {
	return filepath.Join(s.EventDir(event), composeFileName)
}

// WorldDir returns the directory of one world
func (s *Store) WorldDir(event, user string) string {
	return filepath.Join(s.EventDir(event), user)
}

// WorldFile returns the path to a world's compose file
func (s *Store) WorldFile(event, user string) string {
	return filepath.Join(s.WorldDir(event, user), composeFileName)
}

// PeerConfigPath returns the path to a world's wireguard peer config.
// Its existence is the ground truth for whether the world was created.
func (s *Store) PeerConfigPath(event, user string) string {
	return filepath.Join(s.WorldDir(event, user), peerDirName, "peer_"+user+".conf")
}

// WorldExists reports whether the world's peer config is on disk
func (s *Store) WorldExists(event, user string) bool {
	_, err := os.Stat(s.PeerConfigPath(event, user))
	return err == nil
}

// ReadPeerConfig returns the contents of a world's peer config.
// A missing config returns an error satisfying errors.Is(err, fs.ErrNotExist).
func (s *Store) ReadPeerConfig(event, user string) (string, error) {
	data, err := os.ReadFile(s.PeerConfigPath(event, user))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteWorldFile places a world's compose file, creating the world
// directory if needed
func (s *Store) WriteWorldFile(event, user string, data []byte) error {
	dir := s.WorldDir(event, user)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create world directory: %w", err)
	}
	if err := os.WriteFile(s.WorldFile(event, user), data, 0644); err != nil {
		return fmt.Errorf("failed to write world file: %w", err)
	}
	return nil
}

// RemoveWorldDir deletes a world's directory tree. Removing a world
// that is already gone is not an error.
func (s *Store) RemoveWorldDir(event, user string) error {
	dir := s.WorldDir(event, user)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil // Already deleted
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete world directory: %w", err)
	}

	return nil
}

// ListEvents returns event names found under the Events directory.
// Dot-directories are skipped; a missing tree lists as empty.
func (s *Store) ListEvents() ([]string, error) {
	return listDirs(s.EventsDir())
}

// ListWorlds returns user names found under an event directory
func (s *Store) ListWorlds(event string) ([]string, error) {
	return listDirs(s.EventDir(event))
}

// Worlds returns every world found in the configuration tree
func (s *Store) Worlds() ([]types.WorldKey, error) {
	events, err := s.ListEvents()
	if err != nil {
		return nil, err
	}

	var worlds []types.WorldKey
	for _, e := range events {
		users, err := s.ListWorlds(e)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			worlds = append(worlds, types.WorldKey{Event: e, User: u})
		}
	}
	return worlds, nil
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
