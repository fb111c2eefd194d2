package patient

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrSessionIDRequired = errors.New("patient: session id required")
	ErrNotFound          = errors.New("patient: session not found")
)

// Store owns patient sessions. Merge is atomic per session and merges on
// the same session are applied one at a time; different sessions never
// block each other.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (Snapshot, error)
	Merge(ctx context.Context, id string, delta FactDelta) (Snapshot, error)
	Snapshot(ctx context.Context, id string) (Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Clock returns the current time; swapped in tests.
type Clock func() time.Time

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrSessionIDRequired
	}
	return nil
}

// Pseudonym is the BLAKE2b-256 digest of a session id. It is what leaves
// the process in alert streams and archived records.
func Pseudonym(sessionID string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(sessionID)))
	return hex.EncodeToString(sum[:])
}
