package token

import (
	"context"
	"sync"
	"time"

	"github.com/stephnangue/wopihost/logger"
	"github.com/stephnangue/wopihost/rights"
)

// ExtendOutcome is the result of an extension attempt.
type ExtendOutcome int

const (
	// ExtendDenied means the user's current rights no longer permit the
	// requested mode; the editor must surface this to the end user.
	ExtendDenied ExtendOutcome = iota
	// ExtendNoToken means no record exists for the (user, file) pair.
	ExtendNoToken
	// ExtendNotNeeded means the record is still within its lifetime.
	ExtendNotNeeded
	// Extended means the record's issuance time was reset to now.
	Extended
)

// ManagerConfig wires the manager's collaborators.
type ManagerConfig struct {
	// Rights answers capability questions. Required.
	Rights rights.Resolver

	// Timeout returns the tenant's currently configured token lifetime.
	// Consulted at every issuance and extension, never cached. Required.
	Timeout func() time.Duration

	// Store holds live tokens. A fresh store is created when nil, which
	// is what the server does; tests inject their own to reach inside.
	Store *Store

	Logger logger.Logger
}

// Manager enforces the token lifecycle and security rules. It is the only
// component the protocol handler talks to. All record reads and mutations
// are serialized under a single mutex held only for the read-modify-write
// itself; capability resolution, which may do I/O, always happens outside
// the lock and is re-validated against the store afterwards.
//
// Malformed or unknown tokens are never errors here: invalidity is
// signalled through the boolean-returning operations, and the protocol
// handler decides the wire-level response.
type Manager struct {
	mu      sync.Mutex
	store   *Store
	rights  rights.Resolver
	timeout func() time.Duration
	metrics *Metrics
	logger  logger.Logger
}

func NewManager(cfg *ManagerConfig) *Manager {
	store := cfg.Store
	if store == nil {
		store = NewStore()
	}
	return &Manager{
		store:   store,
		rights:  cfg.Rights,
		timeout: cfg.Timeout,
		metrics: &Metrics{},
		logger:  cfg.Logger,
	}
}

// IssueOrReuse returns the live token for (user, fileID), bumping its
// usage count, or issues a fresh one when none exists or the existing one
// has expired. Rights are resolved fresh on every call; a reused record's
// mode and cached rights are overwritten with the current answers. The
// returned value is a snapshot, not the stored record.
func (m *Manager) IssueOrReuse(ctx context.Context, user, fileID string, mode Mode) (FileToken, error) {
	hasView, hasEdit, err := m.resolveRights(ctx, user, fileID, mode)
	if err != nil {
		return FileToken{}, err
	}

	timeout := m.timeout()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.store.FindByUserAndFile(user, fileID); existing != nil {
		if existing.Expired() {
			m.store.Remove(existing.Value)
			m.metrics.IncrementTokensExpired()
		} else {
			existing.Mode = mode
			existing.HasView = hasView
			existing.HasEdit = hasEdit && mode != ModeView
			existing.Usage++
			m.metrics.IncrementTokensReused()
			m.logger.Debug("token reused",
				logger.String("user", user),
				logger.String("file_id", fileID),
				logger.Int("usage", existing.Usage),
			)
			return *existing, nil
		}
	}

	t := New(user, fileID, timeout, mode, hasView, hasEdit)
	m.store.Put(t)
	m.metrics.IncrementTokensIssued()
	m.logger.Debug("token issued",
		logger.String("user", user),
		logger.String("file_id", fileID),
		logger.String("mode", mode.String()),
	)
	return *t, nil
}

// IsValid reports whether the presented token exists in the store and is
// within its lifetime. Expired records are reaped here; there is no
// background sweep. No rights recomputation happens, this is a pure
// liveness check.
func (m *Manager) IsValid(value string) bool {
	if parsed := Parse(value); parsed.User == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.store.Get(value)
	if rec == nil {
		return false
	}
	if rec.Expired() {
		m.store.Remove(value)
		m.metrics.IncrementTokensExpired()
		m.logger.Debug("expired token reaped",
			logger.String("user", rec.User),
			logger.String("file_id", rec.FileID),
		)
		return false
	}
	return true
}

// HasAccess recomputes the record's cached rights against the capability
// resolver and reports whether the user may still touch the file at all.
// Rights can be revoked mid-session, so this runs on every access.
func (m *Manager) HasAccess(ctx context.Context, value string) bool {
	m.mu.Lock()
	rec := m.store.Get(value)
	if rec == nil {
		m.mu.Unlock()
		return false
	}
	user, fileID, mode := rec.User, rec.FileID, rec.Mode
	m.mu.Unlock()

	hasView, hasEdit, err := m.resolveRights(ctx, user, fileID, mode)
	if err != nil {
		m.logger.Warn("rights resolution failed, denying access",
			logger.String("user", user),
			logger.String("file_id", fileID),
			logger.Err(err),
		)
		m.metrics.IncrementAccessDenied()
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The record may have been released or reaped while rights were
	// being resolved; re-validate before writing the cache back.
	rec = m.store.Get(value)
	if rec == nil {
		return false
	}
	rec.HasView = hasView
	rec.HasEdit = hasEdit && rec.Mode != ModeView

	if !rec.HasView && !rec.HasEdit {
		m.metrics.IncrementAccessDenied()
		return false
	}
	return true
}

// HasWriteAccess returns the record's current cached edit right. Call
// HasAccess first when freshness matters.
func (m *Manager) HasWriteAccess(value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.store.Get(value)
	return rec != nil && rec.HasEdit
}

// Extend resets the record's issuance time to now, using the tenant's
// currently configured timeout, provided the user's rights still permit
// the requested mode. The wire value handed out at issuance stays the
// same, so an editor holding the old string keeps a working token.
func (m *Manager) Extend(ctx context.Context, user, fileID string, mode Mode) ExtendOutcome {
	hasView, hasEdit, err := m.resolveRights(ctx, user, fileID, mode)
	if err != nil {
		m.logger.Warn("rights resolution failed, denying extension",
			logger.String("user", user),
			logger.String("file_id", fileID),
			logger.Err(err),
		)
		return ExtendDenied
	}
	needed := hasEdit
	if mode == ModeView {
		needed = hasView
	}
	if !needed {
		m.metrics.IncrementAccessDenied()
		return ExtendDenied
	}

	timeout := m.timeout()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.store.FindByUserAndFile(user, fileID)
	if rec == nil {
		return ExtendNoToken
	}
	rec.Mode = mode
	rec.HasView = hasView
	rec.HasEdit = hasEdit && mode != ModeView
	if !rec.Expired() {
		return ExtendNotNeeded
	}

	rec.IssuedAt = time.Now().UnixMilli()
	rec.Timeout = int64(timeout / time.Second)
	m.logger.Debug("token extended",
		logger.String("user", user),
		logger.String("file_id", fileID),
	)
	return Extended
}

// Release drops one usage of the (user, fileID) token, removing the
// record when the count reaches zero, and returns the remaining count.
// Mode and rights are refreshed first, exactly as on reuse, so a caller
// checking "do I still have edit" right before releasing gets a current
// answer. An absent record yields zero.
func (m *Manager) Release(ctx context.Context, user, fileID string, mode Mode) int {
	hasView, hasEdit, err := m.resolveRights(ctx, user, fileID, mode)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.store.FindByUserAndFile(user, fileID)
	if rec == nil {
		return 0
	}
	if err == nil {
		rec.Mode = mode
		rec.HasView = hasView
		rec.HasEdit = hasEdit && mode != ModeView
	}

	rec.Usage--
	m.metrics.IncrementTokensReleased()
	if rec.Usage <= 0 {
		m.store.Remove(rec.Value)
		m.logger.Debug("token released",
			logger.String("user", user),
			logger.String("file_id", fileID),
		)
		return 0
	}
	m.logger.Debug("token usage dropped",
		logger.String("user", user),
		logger.String("file_id", fileID),
		logger.Int("usage", rec.Usage),
	)
	return rec.Usage
}

// ResolvePrincipal decodes the user field from a wire token, without any
// store lookup. Returns the empty string for malformed input.
func (m *Manager) ResolvePrincipal(value string) string {
	return Parse(value).User
}

// GetMetrics returns a snapshot of the lifecycle counters.
func (m *Manager) GetMetrics() map[string]int64 {
	return m.metrics.GetSnapshot()
}

// resolveRights asks the capability resolver for the current answers.
// Edit is only consulted when the requested mode allows it; a view-mode
// token never carries edit, whatever the underlying principal holds.
func (m *Manager) resolveRights(ctx context.Context, user, fileID string, mode Mode) (hasView, hasEdit bool, err error) {
	hasView, err = m.rights.CanView(ctx, user, fileID)
	if err != nil {
		return false, false, err
	}
	if mode != ModeView {
		hasEdit, err = m.rights.CanEdit(ctx, user, fileID)
		if err != nil {
			return false, false, err
		}
	}
	return hasView, hasEdit, nil
}
