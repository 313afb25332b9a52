package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDirectory_ResolveRoleMembers(t *testing.T) {
	d := NewStatic(
		map[string][]string{"managers": {"boss-1", "boss-2"}},
		nil,
	)

	members, err := d.ResolveRoleMembers(t.Context(), "managers")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"boss-1", "boss-2"}, members)

	empty, err := d.ResolveRoleMembers(t.Context(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, empty, "unknown role resolves to empty set, not error")
}

func TestStaticDirectory_ResolveManagerOf(t *testing.T) {
	d := NewStatic(nil, map[string]string{"analyst-1": "boss-1"})

	manager, err := d.ResolveManagerOf(t.Context(), "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, "boss-1", manager)

	// Top of the reporting line.
	_, err = d.ResolveManagerOf(t.Context(), "boss-1")
	assert.ErrorIs(t, err, ErrNoManager)

	_, err = d.ResolveManagerOf(t.Context(), "stranger")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	content := `{
		"roles": {"analysts": ["analyst-1"]},
		"managers": {"analyst-1": "boss-1"},
		"users": ["lonely-user"]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	d, err := LoadStatic(path)
	require.NoError(t, err)

	members, err := d.ResolveRoleMembers(t.Context(), "analysts")
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst-1"}, members)

	_, err = d.ResolveManagerOf(t.Context(), "lonely-user")
	assert.ErrorIs(t, err, ErrNoManager)
}

func TestLoadStatic_MissingFile(t *testing.T) {
	_, err := LoadStatic(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
