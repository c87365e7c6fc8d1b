package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpsertSessionSQL_GuardsAgainstStaleSnapshots(t *testing.T) {
	// Concurrent mirror goroutines can deliver snapshots out of order;
	// the conflict update must refuse to regress updated_at.
	assert.Contains(t, upsertSessionSQL, "ON CONFLICT (id) DO UPDATE")
	assert.Contains(t, upsertSessionSQL, "WHERE engine_sessions.updated_at <= EXCLUDED.updated_at")

	idx := strings.Index(upsertSessionSQL, "ON CONFLICT")
	guard := strings.Index(upsertSessionSQL, "WHERE engine_sessions.updated_at")
	assert.Greater(t, guard, idx, "the guard must qualify the conflict update, not the insert")
}
