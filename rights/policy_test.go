package rights

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
user "alice" {
  name = "Alice Doe"
  view = ["notes/*"]
  edit = ["docs/*"]
}

user "bob" {
  view = ["docs/readme.odt"]
}
`

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rights.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPolicyFile(t *testing.T) {
	p, err := LoadPolicyFile(writePolicy(t, testPolicy))
	require.NoError(t, err)

	ctx := context.Background()

	view, err := p.CanView(ctx, "alice", "notes/todo.odt")
	require.NoError(t, err)
	assert.True(t, view)

	// Edit implies view.
	view, err = p.CanView(ctx, "alice", "docs/plan.odt")
	require.NoError(t, err)
	assert.True(t, view)

	edit, err := p.CanEdit(ctx, "alice", "docs/plan.odt")
	require.NoError(t, err)
	assert.True(t, edit)

	edit, err = p.CanEdit(ctx, "alice", "notes/todo.odt")
	require.NoError(t, err)
	assert.False(t, edit)

	view, err = p.CanView(ctx, "bob", "docs/readme.odt")
	require.NoError(t, err)
	assert.True(t, view)

	edit, err = p.CanEdit(ctx, "bob", "docs/readme.odt")
	require.NoError(t, err)
	assert.False(t, edit)

	view, err = p.CanView(ctx, "carol", "docs/readme.odt")
	require.NoError(t, err)
	assert.False(t, view, "unknown users get nothing")
}

func TestPolicyFile_FriendlyName(t *testing.T) {
	p, err := LoadPolicyFile(writePolicy(t, testPolicy))
	require.NoError(t, err)

	assert.Equal(t, "Alice Doe", p.FriendlyName("alice"))
	assert.Equal(t, "bob", p.FriendlyName("bob"))
	assert.Equal(t, "carol", p.FriendlyName("carol"))
}

func TestLoadPolicyFile_DuplicateUser(t *testing.T) {
	_, err := LoadPolicyFile(writePolicy(t, `
user "alice" {}
user "alice" {}
`))
	assert.Error(t, err)
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "absent.hcl"))
	assert.Error(t, err)
}

func TestStatic_GrantRevoke(t *testing.T) {
	s := NewStatic()
	ctx := context.Background()

	ok, err := s.CanView(ctx, "alice", "doc.odt")
	require.NoError(t, err)
	assert.False(t, ok)

	s.GrantView("alice", "doc.odt")
	s.GrantEdit("alice", "doc.odt")

	ok, _ = s.CanView(ctx, "alice", "doc.odt")
	assert.True(t, ok)
	ok, _ = s.CanEdit(ctx, "alice", "doc.odt")
	assert.True(t, ok)

	s.RevokeEdit("alice", "doc.odt")
	ok, _ = s.CanEdit(ctx, "alice", "doc.odt")
	assert.False(t, ok)
	ok, _ = s.CanView(ctx, "alice", "doc.odt")
	assert.True(t, ok)
}
