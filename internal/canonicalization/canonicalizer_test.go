package canonicalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusinessKey_Deterministic(t *testing.T) {
	k1 := BusinessKey("101", "9999")
	k2 := BusinessKey("101", "9999")

	assert.Equal(t, k1, k2)
	assert.Equal(t, "101|9999", k1)
}

func TestBusinessKey_OrderSensitive(t *testing.T) {
	assert.NotEqual(t, BusinessKey("a", "b"), BusinessKey("b", "a"))
}

func TestHashKey_Deterministic(t *testing.T) {
	k1 := HashKey("10", "20", "30", "artiSemana-1", "2026-01-02", "Tomate")
	k2 := HashKey("10", "20", "30", "artiSemana-1", "2026-01-02", "Tomate")

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestHashKey_SensitiveToEachPart(t *testing.T) {
	base := HashKey("10", "20", "30", "week-1", "2026-01-02", "Tomate")
	changed := HashKey("10", "20", "30", "week-1", "2026-01-02", "Papa")

	assert.NotEqual(t, base, changed)
}
