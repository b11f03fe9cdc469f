package helper

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/oklog/ulid"
)

// GenerateRequestID returns a sortable unique id for request tracing.
func GenerateRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// GenerateShortID returns 8 hex characters, enough for log correlation.
func GenerateShortID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
