package peer

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{SetupTimeoutSecs: 1}
	assert.NoError(t, mergeConfig(&cfg), "Not expecting merge to fail")

	assert.Equal(t, 1, cfg.SetupTimeoutSecs, "Expect supplied values to be kept")
	assert.Equal(t, DefaultConfig.MaxGarbageEvents, cfg.MaxGarbageEvents, "Expect defaulted garbage limit")
	assert.Equal(t, DefaultConfig.Software, cfg.Software, "Expect defaulted software name")
	assert.Equal(t, DefaultConfig.ProtocolVersions, cfg.ProtocolVersions, "Expect defaulted protocol versions")
}
