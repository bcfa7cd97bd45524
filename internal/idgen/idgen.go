// Package idgen generates time-ordered record identifiers for
// migration-history entries and backup file names.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// New generates a time-ordered UUIDv7 record id, so record ids sort in
// creation order without needing a separate sequence counter. Callers
// use String() for the full id and Short for a compact filename-safe
// form.
func New() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("generate record id: %w", err)
	}

	return id, nil
}

const (
	shortLength   = 12
	crockfordBase = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// Short derives a stable, 12-char Crockford base32 short id from the
// top 60 of a UUIDv7's random bits. The embedded timestamp does not
// enter it, so two UUIDs that differ only in their timestamp (or in
// the low random bits) share the same short id.
func Short(id uuid.UUID) (string, error) {
	if id.Version() != 7 {
		return "", fmt.Errorf("short id: expected uuidv7, got version %d", id.Version())
	}

	randA := (uint16(id[6]&0x0f) << 8) | uint16(id[7])
	randB := (uint64(id[8]&0x3f) << 56) |
		(uint64(id[9]) << 48) |
		(uint64(id[10]) << 40) |
		(uint64(id[11]) << 32) |
		(uint64(id[12]) << 24) |
		(uint64(id[13]) << 16) |
		(uint64(id[14]) << 8) |
		uint64(id[15])

	top60 := (uint64(randA) << 48) | (randB >> 14)

	return encodeCrockford(top60), nil
}

func encodeCrockford(value uint64) string {
	var buf [shortLength]byte
	for i := shortLength - 1; i >= 0; i-- {
		buf[i] = crockfordBase[value&0x1f]
		value >>= 5
	}

	return string(buf[:])
}
