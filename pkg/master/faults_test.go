package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterselector/pkg/coordination"
	"masterselector/pkg/coordination/memory"
)

// namespaceCreates is the number of creates the bootstrap issues for RootPath.
var namespaceCreates = len(coordination.Ancestors(RootPath))

func TestClaimReplyLostAfterCreateLanded(t *testing.T) {
	srv := memory.NewServer()
	srv.InjectFault(memory.Fault{Op: memory.OpCreate, Path: testClaim, Status: coordination.StatusConnectionLoss, Landed: true})
	s := startSelector(t, srv, "10.0.0.1:80")

	require.NoError(t, s.RunForMaster(testKey))
	waitState(t, s, testKey, StateClaimed)
	waitMaster(t, s, testKey, "10.0.0.1:80")

	assert.Equal(t, namespaceCreates+1, srv.Calls(memory.OpCreate), "the landed create is not repeated")
	assert.Equal(t, "10.0.0.1:80", mustGet(t, srv, testClaim))
}

func TestClaimReplyLostBeforeCreateLanded(t *testing.T) {
	srv := memory.NewServer()
	srv.InjectFault(memory.Fault{Op: memory.OpCreate, Path: testClaim, Status: coordination.StatusConnectionLoss})
	s := startSelector(t, srv, "10.0.0.1:80")

	require.NoError(t, s.RunForMaster(testKey))
	waitState(t, s, testKey, StateClaimed)

	assert.Equal(t, namespaceCreates+2, srv.Calls(memory.OpCreate))
	assert.Equal(t, "10.0.0.1:80", mustGet(t, srv, testClaim))
}

func TestClaimReplyLostWhileOtherHolds(t *testing.T) {
	srv := memory.NewServer()
	a := startSelector(t, srv, "10.0.0.1:80")
	b := startSelector(t, srv, "10.0.0.2:80")

	require.NoError(t, a.RunForMaster(testKey))
	waitState(t, a, testKey, StateClaimed)

	srv.InjectFault(memory.Fault{Op: memory.OpCreate, Path: testClaim, Status: coordination.StatusConnectionLoss})
	require.NoError(t, b.RunForMaster(testKey))
	waitState(t, b, testKey, StateWatchingForDeletion)
	waitMaster(t, b, testKey, "10.0.0.1:80")

	require.NoError(t, a.Close())
	waitState(t, b, testKey, StateClaimed)
}

func TestBootstrapRetriesConnectionLoss(t *testing.T) {
	srv := memory.NewServer()
	srv.InjectFault(memory.Fault{Op: memory.OpCreate, Path: "/soa", Status: coordination.StatusConnectionLoss, Count: 3})
	srv.InjectFault(memory.Fault{Op: memory.OpCreate, Path: RootPath, Status: coordination.StatusConnectionLoss, Count: 2})
	s := startSelector(t, srv, "10.0.0.1:80", func(o *Options) {
		o.RetryInitialInterval = 2 * time.Millisecond
		o.RetryMaxInterval = 10 * time.Millisecond
	})

	require.NoError(t, s.RunForMaster(testKey))
	waitState(t, s, testKey, StateClaimed)

	assert.Zero(t, srv.PendingFaults())
	assert.Equal(t, namespaceCreates+5+1, srv.Calls(memory.OpCreate))
}

func TestRegistryReadsRetryConnectionLoss(t *testing.T) {
	srv := memory.NewServer()
	seed(t, srv, "search:v1", "10.1.1.1:7000")
	srv.InjectFault(memory.Fault{Op: memory.OpGetChildren, Status: coordination.StatusConnectionLoss, Count: 2})
	srv.InjectFault(memory.Fault{Op: memory.OpGetData, Status: coordination.StatusConnectionLoss, Count: 2})

	s := startSelector(t, srv, "10.0.0.1:80")

	waitMaster(t, s, "search:v1", "10.1.1.1:7000")
	assert.Zero(t, srv.PendingFaults())
	assert.GreaterOrEqual(t, srv.Calls(memory.OpGetChildren), 3)
	assert.GreaterOrEqual(t, srv.Calls(memory.OpGetData), 3)
}

func TestWatchClaimRetriesConnectionLoss(t *testing.T) {
	srv := memory.NewServer()
	a := startSelector(t, srv, "10.0.0.1:80")
	b := startSelector(t, srv, "10.0.0.2:80")

	require.NoError(t, a.RunForMaster(testKey))
	waitState(t, a, testKey, StateClaimed)

	srv.InjectFault(memory.Fault{Op: memory.OpExists, Path: testClaim, Status: coordination.StatusConnectionLoss, Count: 3})
	require.NoError(t, b.RunForMaster(testKey))
	waitState(t, b, testKey, StateWatchingForDeletion)
	require.Eventually(t, func() bool { return srv.PendingFaults() == 0 }, waitFor, tick)

	// The watch armed by the successful retry still reports the vacancy.
	require.NoError(t, a.Close())
	waitState(t, b, testKey, StateClaimed)
}

func TestWatchClaimUnclassifiedGivesUpAndChecks(t *testing.T) {
	srv := memory.NewServer()
	a := startSelector(t, srv, "10.0.0.1:80")
	b := startSelector(t, srv, "10.0.0.2:80")

	require.NoError(t, a.RunForMaster(testKey))
	waitState(t, a, testKey, StateClaimed)

	srv.InjectFault(memory.Fault{Op: memory.OpExists, Path: testClaim, Status: coordination.StatusOther})
	require.NoError(t, b.RunForMaster(testKey))

	waitMaster(t, b, testKey, "10.0.0.1:80")
	require.Eventually(t, func() bool {
		return srv.PendingFaults() == 0 && b.ContenderState(testKey) == StateUninitiated
	}, waitFor, tick)

	// Nothing watches the claim any more; an explicit call resumes.
	require.NoError(t, a.Close())
	require.NoError(t, b.RunForMaster(testKey))
	waitState(t, b, testKey, StateClaimed)
}

func TestCreateFailureReturnsToUninitiated(t *testing.T) {
	for _, status := range []coordination.Status{coordination.StatusNoParent, coordination.StatusOther} {
		t.Run(status.String(), func(t *testing.T) {
			srv := memory.NewServer()
			s := startSelector(t, srv, "10.0.0.1:80")
			srv.InjectFault(memory.Fault{Op: memory.OpCreate, Path: testClaim, Status: status})

			require.NoError(t, s.RunForMaster(testKey))
			require.Eventually(t, func() bool {
				return srv.PendingFaults() == 0 && s.ContenderState(testKey) == StateUninitiated
			}, waitFor, tick)
			_, ok := srv.Get(testClaim)
			assert.False(t, ok)

			// An explicit call competes again.
			require.NoError(t, s.RunForMaster(testKey))
			waitState(t, s, testKey, StateClaimed)
		})
	}
}

func TestFailedCheckAfterLostClaimReplyReturnsToUninitiated(t *testing.T) {
	srv := memory.NewServer()
	s := startSelector(t, srv, "10.0.0.1:80")
	srv.InjectFault(memory.Fault{Op: memory.OpCreate, Path: testClaim, Status: coordination.StatusConnectionLoss})
	srv.InjectFault(memory.Fault{Op: memory.OpGetData, Path: testClaim, Status: coordination.StatusOther})

	require.NoError(t, s.RunForMaster(testKey))
	require.Eventually(t, func() bool {
		return srv.PendingFaults() == 0 && s.ContenderState(testKey) == StateUninitiated
	}, waitFor, tick)
	_, ok := srv.Get(testClaim)
	assert.False(t, ok)

	require.NoError(t, s.RunForMaster(testKey))
	waitState(t, s, testKey, StateClaimed)
	assert.Equal(t, "10.0.0.1:80", mustGet(t, srv, testClaim))
}

func TestFailedCheckWhileWatchingKeepsWatch(t *testing.T) {
	srv := memory.NewServer()
	a := startSelector(t, srv, "10.0.0.1:80")
	b := startSelector(t, srv, "10.0.0.2:80")

	require.NoError(t, a.RunForMaster(testKey))
	waitState(t, a, testKey, StateClaimed)
	waitMaster(t, b, testKey, "10.0.0.1:80")

	srv.InjectFault(memory.Fault{Op: memory.OpGetData, Path: testClaim, Status: coordination.StatusOther})
	require.NoError(t, b.RunForMaster(testKey))
	require.Eventually(t, func() bool {
		return srv.PendingFaults() == 0 && b.ContenderState(testKey) == StateWatchingForDeletion
	}, waitFor, tick)

	require.NoError(t, a.Close())
	waitState(t, b, testKey, StateClaimed)
}
