package slotmap

import "testing"

func TestKeySlotKnownValues(t *testing.T) {
	// Well-known values published by the Redis Cluster spec test suite.
	cases := []struct {
		key  string
		slot int
	}{
		{"123456789", 12739},
		{"foo", 12182},
	}
	for _, c := range cases {
		if got := KeySlot(c.key); got != c.slot {
			t.Errorf("KeySlot(%q) = %d, want %d", c.key, got, c.slot)
		}
	}
}

func TestKeySlotHashTag(t *testing.T) {
	a := KeySlot("{user1000}.following")
	b := KeySlot("{user1000}.followers")
	c := KeySlot("user1000")
	if a != b {
		t.Errorf("keys sharing a hash tag must map to the same slot: %d != %d", a, b)
	}
	if a != KeySlot("user1000") {
		t.Errorf("hash tag contents must hash identically to the bare key: %d != %d", a, c)
	}
}

func TestKeySlotEmptyBraces(t *testing.T) {
	// "{}" has no content between the braces, so the whole key is hashed.
	if got, want := KeySlot("{}foo"), int(crc16([]byte("{}foo"))%NumSlots); got != want {
		t.Fatalf("KeySlot(%q) = %d, want %d (hash of the whole key)", "{}foo", got, want)
	}
}

func TestKeySlotRange(t *testing.T) {
	for _, k := range []string{"a", "b", "somekey", "{tag}rest", ""} {
		s := KeySlot(k)
		if s < 0 || s >= NumSlots {
			t.Errorf("KeySlot(%q) = %d out of range [0,%d)", k, s, NumSlots)
		}
	}
}
