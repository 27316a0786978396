package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateWindowStrictLimit(t *testing.T) {
	rw := NewRateWindow(3, time.Minute, zap.NewNop())
	now := time.Now()

	require.True(t, rw.Allow(now))
	require.True(t, rw.Allow(now.Add(time.Second)))
	require.True(t, rw.Allow(now.Add(2*time.Second)))

	// Четвертый вызов внутри окна отклоняется
	require.False(t, rw.Allow(now.Add(30*time.Second)))

	stats := rw.Stats()
	require.Equal(t, 3, stats.CallsInWindow)
	require.Equal(t, uint64(1), stats.Rejected)
}

func TestRateWindowSlides(t *testing.T) {
	rw := NewRateWindow(3, time.Minute, zap.NewNop())
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.True(t, rw.Allow(now))
	}
	require.False(t, rw.Allow(now.Add(59*time.Second)))

	// Окно уехало: старые отметки вычищены, место освободилось
	require.True(t, rw.Allow(now.Add(61*time.Second)))
}

func TestRateWindowPurgesEagerly(t *testing.T) {
	rw := NewRateWindow(2, 10*time.Second, zap.NewNop())
	now := time.Now()

	require.True(t, rw.Allow(now))
	require.True(t, rw.Allow(now.Add(time.Second)))

	// Оба вызова за границей окна — счетчик начинается заново
	require.True(t, rw.Allow(now.Add(20*time.Second)))
	require.Equal(t, 1, rw.Stats().CallsInWindow)
}
