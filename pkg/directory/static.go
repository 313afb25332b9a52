package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// StaticDirectory is a Directory backed by an in-memory snapshot, loadable
// from a JSON file. It serves development mode and tests; production
// deployments plug in a real identity provider behind the same interface.
type StaticDirectory struct {
	mu       sync.RWMutex
	roles    map[string][]string
	managers map[string]string
	users    map[string]struct{}
}

// staticFile is the on-disk JSON shape of a directory snapshot.
type staticFile struct {
	Roles    map[string][]string `json:"roles"`
	Managers map[string]string   `json:"managers"`
	Users    []string            `json:"users"`
}

// NewStatic creates a directory from explicit role and manager maps.
func NewStatic(roles map[string][]string, managers map[string]string) *StaticDirectory {
	d := &StaticDirectory{
		roles:    make(map[string][]string),
		managers: make(map[string]string),
		users:    make(map[string]struct{}),
	}

	for role, members := range roles {
		d.roles[role] = append([]string(nil), members...)

		for _, member := range members {
			d.users[member] = struct{}{}
		}
	}

	for user, manager := range managers {
		d.managers[user] = manager
		d.users[user] = struct{}{}
		d.users[manager] = struct{}{}
	}

	return d
}

// LoadStatic reads a directory snapshot from a JSON file.
func LoadStatic(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var file staticFile

	err = json.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}

	d := NewStatic(file.Roles, file.Managers)

	for _, user := range file.Users {
		d.users[user] = struct{}{}
	}

	return d, nil
}

func (d *StaticDirectory) ResolveRoleMembers(_ context.Context, roleID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]string(nil), d.roles[roleID]...), nil
}

func (d *StaticDirectory) ResolveManagerOf(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, known := d.users[userID]; !known {
		return "", fmt.Errorf("resolve manager of %s: %w", userID, ErrUnknownUser)
	}

	manager, ok := d.managers[userID]
	if !ok {
		return "", fmt.Errorf("resolve manager of %s: %w", userID, ErrNoManager)
	}

	return manager, nil
}
