package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogWritesEventAndPairs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	Log(zap.New(core), "login.accepted", "login", "alice", 42, "dropped", "created", true)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "audit", entry.Message)

	fields := entry.ContextMap()
	require.Equal(t, "login.accepted", fields["event"])
	require.Equal(t, "alice", fields["login"])
	require.Equal(t, true, fields["created"])
	require.Contains(t, fields, "timestamp")
	require.Len(t, fields, 4)
}

func TestLogWithoutLogger(t *testing.T) {
	require.NotPanics(t, func() { Log(nil, "noop") })
}
