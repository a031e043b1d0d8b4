// Package idgen generates identifiers. Scan cycles get "scan_" prefixed
// UUID v7 ids, which sort by creation time.
package idgen

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUID strings.
func UUIDv7() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Prefixed prepends prefix to every id of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Sequence returns a Generator of "<prefix>1", "<prefix>2", ... for
// deterministic tests.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s%d", prefix, n.Add(1)) }
}

// ScanPrefix prefixes scan ids.
const ScanPrefix = "scan_"

// Scan is the default scan id generator.
var Scan = Prefixed(ScanPrefix, UUIDv7())

// ParseScan validates a scan id and returns its UUID.
func ParseScan(id string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(id, ScanPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("idgen: %q: missing %s prefix", id, ScanPrefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, fmt.Errorf("idgen: %q: %w", id, err)
	}
	return u, nil
}
