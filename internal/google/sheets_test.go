package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", columnLetter(1))
	assert.Equal(t, "G", columnLetter(7))
	assert.Equal(t, "I", columnLetter(9))
}

func TestRowCache(t *testing.T) {
	s := &SheetsStore{rowCache: make(map[string]map[string]int)}

	_, ok := s.cachedRow("Bookings", "id1")
	assert.False(t, ok)

	s.setCachedRow("Bookings", "id1", 5)
	row, ok := s.cachedRow("Bookings", "id1")
	assert.True(t, ok)
	assert.Equal(t, 5, row)

	// Caches are per table.
	_, ok = s.cachedRow("Users", "id1")
	assert.False(t, ok)

	s.clearTableCache("Bookings")
	_, ok = s.cachedRow("Bookings", "id1")
	assert.False(t, ok)
}
