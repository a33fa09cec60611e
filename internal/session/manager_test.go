package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	manager := NewManager(newTestParser(t), testOptions(t))
	defer manager.Close()

	require.NotNil(t, manager.sessions)
	assert.Equal(t, 30*time.Minute, manager.opts.Timeout)
	assert.Equal(t, DefaultProtocolVersion, manager.opts.FallbackVersion)
	assert.Equal(t, 0, manager.Count())
}

func TestManagerGetOrCreate(t *testing.T) {
	manager := NewManager(newTestParser(t), testOptions(t))
	defer manager.Close()

	s1 := manager.GetOrCreate("dev-1")
	s2 := manager.GetOrCreate("dev-1")
	assert.Same(t, s1, s2)
	assert.Equal(t, "dev-1", s1.DeviceKey)

	s3 := manager.GetOrCreate("dev-2")
	assert.NotEqual(t, s1.ID, s3.ID)
	assert.Equal(t, 2, manager.Count())

	got, ok := manager.Get("dev-2")
	require.True(t, ok)
	assert.Same(t, s3, got)

	_, ok = manager.Get("missing")
	assert.False(t, ok)
}

func TestManagerIngestRoutesByDevice(t *testing.T) {
	manager := NewManager(newTestParser(t), testOptions(t))
	defer manager.Close()

	_, err := manager.Ingest("dev-b", domain.BlockProtocolInfo, protocolInfo(2005, 1))
	require.NoError(t, err)
	_, err = manager.Ingest("dev-a", domain.BlockHomeData, homeData(2000))
	require.NoError(t, err)

	// Version negotiation is per device.
	a, _ := manager.Get("dev-a")
	b, _ := manager.Get("dev-b")
	assert.Equal(t, 2000, a.Version())
	assert.Equal(t, 2005, b.Version())

	stats := manager.All()
	require.Len(t, stats, 2)
	assert.Equal(t, "dev-a", stats[0].DeviceKey)
	assert.Equal(t, "dev-b", stats[1].DeviceKey)
	assert.Equal(t, int64(38), stats[0].BytesReceived)
}

func TestManagerRemove(t *testing.T) {
	manager := NewManager(newTestParser(t), testOptions(t))
	defer manager.Close()

	manager.GetOrCreate("dev-1")
	assert.True(t, manager.Remove("dev-1"))
	assert.False(t, manager.Remove("dev-1"))
	assert.Equal(t, 0, manager.Count())
}

func TestManagerCleanupExpiredSessions(t *testing.T) {
	opts := testOptions(t)
	opts.Timeout = time.Minute
	manager := NewManager(newTestParser(t), opts)
	defer manager.Close()

	stale := manager.GetOrCreate("stale")
	manager.GetOrCreate("fresh")

	stale.mutex.Lock()
	stale.lastActivity = time.Now().Add(-2 * time.Minute)
	stale.mutex.Unlock()

	assert.True(t, stale.IsExpired(time.Minute))
	assert.Equal(t, 1, manager.CleanupExpiredSessions())
	assert.Equal(t, 1, manager.Count())
	_, ok := manager.Get("stale")
	assert.False(t, ok)

	// Activity keeps a session alive.
	fresh, _ := manager.Get("fresh")
	fresh.Touch()
	assert.Equal(t, 0, manager.CleanupExpiredSessions())
}

func TestManagerCleanupRoutine(t *testing.T) {
	opts := testOptions(t)
	opts.Timeout = time.Millisecond
	opts.CleanupInterval = 5 * time.Millisecond
	manager := NewManager(newTestParser(t), opts)
	defer manager.Close()

	manager.GetOrCreate("dev-1")
	assert.Eventually(t, func() bool { return manager.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManagerClose(t *testing.T) {
	manager := NewManager(newTestParser(t), testOptions(t))
	manager.GetOrCreate("dev-1")

	manager.Close()
	assert.Equal(t, 0, manager.Count())

	// Closing twice is harmless.
	manager.Close()
}

func TestManagerConcurrentAccess(t *testing.T) {
	manager := NewManager(newTestParser(t), testOptions(t))
	defer manager.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("dev-%d", i%3)
			for j := 0; j < 10; j++ {
				_, err := manager.Ingest(key, domain.BlockHomeData, homeData(2000))
				assert.NoError(t, err)
				_ = manager.All()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, manager.Count())
	var total int64
	for _, s := range manager.All() {
		total += s.BlocksDecoded
	}
	assert.Equal(t, int64(100), total)
}
