package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	// Prefix carried by every rendered token so that the editor-facing
	// value is self-describing on the wire.
	Prefix = "wopi_"

	fieldSep = "_"

	// GuestUser is the principal recorded when a request carries no
	// authenticated identity.
	GuestUser = "guest"
)

// Mode is the capability class requested by the editor for a file.
type Mode int

const (
	ModeEdit Mode = iota
	ModeView
)

func (m Mode) String() string {
	if m == ModeView {
		return "view"
	}
	return "edit"
}

// ValidPrincipal reports whether a user id can be carried in a wire
// token. The rendered form reserves the separator for its own fields
// and Parse splits the user off at the first one, so a principal
// containing an underscore would round-trip as a different identity.
func ValidPrincipal(user string) bool {
	return user != "" && !strings.Contains(user, fieldSep)
}

// ParseMode maps the request's mode parameter to a Mode. Absent or
// unrecognized values mean edit, matching what the editor sends when it
// does not care to restrict itself.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, "view") {
		return ModeView
	}
	return ModeEdit
}

// FileToken is a short-lived credential binding a user to a file. Its
// identity is the (User, FileID, IssuedAt, Nonce) tuple; Value is the
// rendered wire form handed to the editor, fixed at issuance. The store
// owns the canonical copy of every live token; callers receive snapshots.
type FileToken struct {
	User     string
	FileID   string
	IssuedAt int64 // unix milliseconds
	Nonce    int64
	Value    string

	// Timeout is the effective lifetime in seconds, derived from the
	// tenant configuration at issuance and refreshed on extension.
	Timeout int64

	// Usage counts concurrent consumers of this token, e.g. several
	// editor windows opened by the same user on the same file.
	Usage int

	Mode    Mode
	HasView bool
	HasEdit bool
}

// New creates a token issued now with usage 1. The rights flags are the
// capability resolver's answers at issuance; edit is clamped off for
// view-mode requests.
func New(user, fileID string, timeout time.Duration, mode Mode, hasView, hasEdit bool) *FileToken {
	t := &FileToken{
		User:     user,
		FileID:   fileID,
		IssuedAt: time.Now().UnixMilli(),
		Nonce:    newNonce(),
		Timeout:  int64(timeout / time.Second),
		Usage:    1,
		Mode:     mode,
		HasView:  hasView,
		HasEdit:  hasEdit && mode != ModeView,
	}
	t.Value = render(t.User, t.FileID, t.IssuedAt, t.Nonce)
	return t
}

// ExpiredAt reports whether the token's lifetime has elapsed at the given
// instant. The boundary counts as expired.
func (t *FileToken) ExpiredAt(now time.Time) bool {
	elapsed := (now.UnixMilli() - t.IssuedAt) / 1000
	return elapsed >= t.Timeout
}

// Expired reports whether the token's lifetime has elapsed.
func (t *FileToken) Expired() bool {
	return t.ExpiredAt(time.Now())
}

// SameIdentity reports whether two tokens denote the same credential,
// i.e. all four identity fields match.
func (t *FileToken) SameIdentity(other *FileToken) bool {
	return t.User == other.User &&
		t.FileID == other.FileID &&
		t.IssuedAt == other.IssuedAt &&
		t.Nonce == other.Nonce
}

func (t *FileToken) String() string {
	return t.Value
}

func render(user, fileID string, issuedAt, nonce int64) string {
	return fmt.Sprintf("%s%s%s%s%s%d%s%d", Prefix, user, fieldSep, fileID, fieldSep, issuedAt, fieldSep, nonce)
}

// Parse decodes a candidate wire token into a structural record. It never
// fails: malformed input yields a zero record whose empty User field
// signals "not a token" to callers. The two trailing numeric fields
// (timestamp, nonce) are anchored from the right so that file ids
// containing underscores survive the round trip; the remaining prefix is
// split at its first separator into user and file id.
func Parse(s string) FileToken {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return FileToken{}
	}

	i := strings.LastIndex(rest, fieldSep)
	if i < 0 {
		return FileToken{}
	}
	nonce, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil || nonce < 0 {
		return FileToken{}
	}
	rest = rest[:i]

	i = strings.LastIndex(rest, fieldSep)
	if i < 0 {
		return FileToken{}
	}
	issuedAt, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil || issuedAt < 0 {
		return FileToken{}
	}
	rest = rest[:i]

	i = strings.Index(rest, fieldSep)
	if i <= 0 || i == len(rest)-1 {
		return FileToken{}
	}

	return FileToken{
		User:     rest[:i],
		FileID:   rest[i+1:],
		IssuedAt: issuedAt,
		Nonce:    nonce,
		Value:    s,
		Usage:    1,
	}
}

func newNonce() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		// crypto/rand only fails when the platform's entropy source is
		// broken, at which point serving tokens at all is unsafe.
		panic(fmt.Sprintf("token: reading random nonce: %v", err))
	}
	return n.Int64()
}
