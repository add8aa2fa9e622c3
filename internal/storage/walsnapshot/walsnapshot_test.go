package walsnapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testState struct {
	Values []int
}

func openTest(t *testing.T) *Snapshotter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	s, err := Open(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadReportsNoSnapshotInitially(t *testing.T) {
	s := openTest(t)

	var out testState
	found, err := s.Load("queues", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := openTest(t)

	in := testState{Values: []int{1, 2, 3}}
	require.NoError(t, s.Save("queues", in))

	var out testState
	found, err := s.Load("queues", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestSaveOverwritesPriorSnapshot(t *testing.T) {
	s := openTest(t)

	require.NoError(t, s.Save("queues", testState{Values: []int{1}}))
	require.NoError(t, s.Save("queues", testState{Values: []int{2, 3}}))

	var out testState
	found, err := s.Load("queues", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int{2, 3}, out.Values)
}

func TestKeysAreIndependent(t *testing.T) {
	s := openTest(t)

	require.NoError(t, s.Save("a", testState{Values: []int{1}}))

	var out testState
	found, err := s.Load("b", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunInvokesSnapshotUntilStopped(t *testing.T) {
	s := openTest(t)

	calls := make(chan struct{}, 8)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		s.Run(5*time.Millisecond, stop, func() error {
			select {
			case calls <- struct{}{}:
			default:
			}
			return nil
		})
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("Run never invoked the snapshot function")
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after stop was closed")
	}
}
