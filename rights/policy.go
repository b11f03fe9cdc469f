package rights

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/ryanuber/go-glob"
)

// PolicyFile resolves capabilities from an HCL policy file:
//
//	user "alice" {
//	  name = "Alice Doe"
//	  view = ["docs/*", "notes/todo.odt"]
//	  edit = ["docs/*"]
//	}
//
// File id lists accept glob patterns. The file is read once at
// construction; the content host is expected to restart or rebuild the
// resolver when policies change.
type PolicyFile struct {
	users map[string]*userPolicy
}

var _ Resolver = (*PolicyFile)(nil)

type policyConfig struct {
	Users []userPolicy `hcl:"user,block"`
}

type userPolicy struct {
	User string   `hcl:"user,label"`
	Name string   `hcl:"name,optional"`
	View []string `hcl:"view,optional"`
	Edit []string `hcl:"edit,optional"`
}

func LoadPolicyFile(path string) (*PolicyFile, error) {
	var cfg policyConfig
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("loading rights policy %s: %w", path, err)
	}

	p := &PolicyFile{users: make(map[string]*userPolicy, len(cfg.Users))}
	for i := range cfg.Users {
		u := cfg.Users[i]
		if _, dup := p.users[u.User]; dup {
			return nil, fmt.Errorf("rights policy %s: duplicate user block %q", path, u.User)
		}
		p.users[u.User] = &u
	}
	return p, nil
}

func (p *PolicyFile) CanView(ctx context.Context, user, fileID string) (bool, error) {
	u := p.users[user]
	if u == nil {
		return false, nil
	}
	// Edit implies view: a user allowed to save a file can open it.
	return matches(u.View, fileID) || matches(u.Edit, fileID), nil
}

func (p *PolicyFile) CanEdit(ctx context.Context, user, fileID string) (bool, error) {
	u := p.users[user]
	if u == nil {
		return false, nil
	}
	return matches(u.Edit, fileID), nil
}

// FriendlyName returns the display name configured for user, falling
// back to the principal id itself.
func (p *PolicyFile) FriendlyName(user string) string {
	if u := p.users[user]; u != nil && u.Name != "" {
		return u.Name
	}
	return user
}

func matches(patterns []string, fileID string) bool {
	if strutil.StrListContains(patterns, fileID) {
		return true
	}
	for _, pat := range patterns {
		if glob.Glob(pat, fileID) {
			return true
		}
	}
	return false
}
