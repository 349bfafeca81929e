// Package ids mints the opaque identifiers used across the proxy: response
// ids, output item ids, tool call ids and request ids.
package ids

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// New returns "<prefix>_<32 hex chars>". The random part carries 128 bits, so
// collisions are not a practical concern within a deployment.
func New(prefix string) string {
	u := uuid.New()
	return prefix + "_" + hex.EncodeToString(u[:])
}

// NowUnix returns the current wall-clock time in whole seconds, the resolution
// used for response created_at stamps.
func NowUnix() int64 {
	return time.Now().Unix()
}
