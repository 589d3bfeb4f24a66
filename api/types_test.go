package api_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-prefork/api"
)

func TestRoleAndStateStrings(t *testing.T) {
	require.Equal(t, "master", api.RoleMaster.String())
	require.Equal(t, "worker", api.RoleWorker.String())
	require.Equal(t, "unknown", api.Role(7).String())
	require.Equal(t, "live", api.WorkerLive.String())
	require.Equal(t, "dead", api.WorkerDead.String())
}

func TestEventMaskHas(t *testing.T) {
	m := api.EventRead | api.EventHangup
	require.True(t, m.Has(api.EventRead))
	require.True(t, m.Has(api.EventRead|api.EventHangup))
	require.False(t, m.Has(api.EventWrite))
}
