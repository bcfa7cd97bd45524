package idgen_test

import (
	"testing"

	"github.com/google/uuid"

	"memstore/internal/idgen"
)

func TestShort_DoesNotChange_When_TimestampChanges(t *testing.T) {
	t.Parallel()

	randA := uint16(0xabc)
	randB := uint64(0x123456789abcde)

	build := func(ms int64) uuid.UUID {
		var id uuid.UUID
		id[0] = byte(ms >> 40)
		id[1] = byte(ms >> 32)
		id[2] = byte(ms >> 24)
		id[3] = byte(ms >> 16)
		id[4] = byte(ms >> 8)
		id[5] = byte(ms)
		id[6] = 0x70 | byte(randA>>8)
		id[7] = byte(randA)
		id[8] = 0x80 | byte(randB>>56)
		id[9] = byte(randB >> 48)
		id[10] = byte(randB >> 40)
		id[11] = byte(randB >> 32)
		id[12] = byte(randB >> 24)
		id[13] = byte(randB >> 16)
		id[14] = byte(randB >> 8)
		id[15] = byte(randB)

		return id
	}

	first, err := idgen.Short(build(1000))
	if err != nil {
		t.Fatalf("Short: %v", err)
	}

	second, err := idgen.Short(build(99999999))
	if err != nil {
		t.Fatalf("Short: %v", err)
	}

	if first != second {
		t.Fatalf("short id changed with timestamp: %q != %q", first, second)
	}

	if len(first) != 12 {
		t.Fatalf("len(short id)=%d, want 12", len(first))
	}
}

func TestNew_ReturnsUUIDv7_WithDerivableShort(t *testing.T) {
	t.Parallel()

	id, err := idgen.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if id.Version() != 7 {
		t.Fatalf("version=%d, want 7", id.Version())
	}

	short, err := idgen.Short(id)
	if err != nil {
		t.Fatalf("Short: %v", err)
	}

	if len(short) != 12 {
		t.Fatalf("len(short)=%d, want 12", len(short))
	}
}
