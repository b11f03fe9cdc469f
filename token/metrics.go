package token

import "sync"

// Metrics tracks operational statistics for the token lifecycle.
type Metrics struct {
	mu             sync.RWMutex
	TokensIssued   int64
	TokensReused   int64
	TokensExpired  int64
	TokensReleased int64
	AccessDenied   int64
}

func (m *Metrics) IncrementTokensIssued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensIssued++
}

func (m *Metrics) IncrementTokensReused() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensReused++
}

func (m *Metrics) IncrementTokensExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensExpired++
}

func (m *Metrics) IncrementTokensReleased() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensReleased++
}

func (m *Metrics) IncrementAccessDenied() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AccessDenied++
}

func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"tokens_issued":   m.TokensIssued,
		"tokens_reused":   m.TokensReused,
		"tokens_expired":  m.TokensExpired,
		"tokens_released": m.TokensReleased,
		"access_denied":   m.AccessDenied,
	}
}
