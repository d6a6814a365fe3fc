package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The collectors register on the default registry, so the whole file
// shares one manager.
var testManager = NewManager()

func TestComponentHealthSnapshot(t *testing.T) {
	testManager.SetComponentHealth("storage", true)
	testManager.SetComponentHealth("scheduler", false)

	snapshot := testManager.ComponentHealth()
	assert.True(t, snapshot["storage"])
	assert.False(t, snapshot["scheduler"])

	// Mutating the snapshot must not leak back into the manager.
	snapshot["storage"] = false
	assert.True(t, testManager.ComponentHealth()["storage"])

	testManager.SetComponentHealth("scheduler", true)
	assert.True(t, testManager.ComponentHealth()["scheduler"])
}

func TestUptimeGrows(t *testing.T) {
	require.GreaterOrEqual(t, testManager.Uptime(), time.Duration(0))
	testManager.UpdateSystemMetrics()
}
