package gateway

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateWindow — строгое скользящее окно на исходящие вызовы бэкенда.
// Это не token bucket: четвертый вызов при лимите 3 в окне отклоняется,
// пока самый старый не выйдет за границу окна целиком.
type RateWindow struct {
	maxCalls int
	window   time.Duration

	mu       sync.Mutex
	calls    []time.Time
	rejected uint64 // счетчик для наблюдаемости, на отказ больше ничего не делаем

	logger *zap.Logger
}

func NewRateWindow(maxCalls int, window time.Duration, logger *zap.Logger) *RateWindow {
	return &RateWindow{
		maxCalls: maxCalls,
		window:   window,
		logger:   logger.Named("ratewindow"),
	}
}

// Allow проверяет лимит на момент now: чистит устаревшие отметки,
// при свободном месте записывает now и пропускает вызов.
func (r *RateWindow) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Жадная чистка: в calls остаются только отметки внутри окна
	cutoff := now.Add(-r.window)
	kept := r.calls[:0]
	for _, t := range r.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.calls = kept

	if len(r.calls) < r.maxCalls {
		r.calls = append(r.calls, now)
		return true
	}

	r.rejected++
	r.logger.Warn("rate limit exceeded",
		zap.Int("calls_in_window", len(r.calls)),
		zap.Int("max_calls", r.maxCalls),
		zap.Duration("window", r.window),
	)
	return false
}

// Stats — текущая заполненность окна.
type RateStats struct {
	CallsInWindow int     `json:"calls_in_window"`
	MaxCalls      int     `json:"max_calls"`
	Rejected      uint64  `json:"rejected"`
	Utilization   float64 `json:"utilization"`
}

func (r *RateWindow) Stats() RateStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateStats{
		CallsInWindow: len(r.calls),
		MaxCalls:      r.maxCalls,
		Rejected:      r.rejected,
		Utilization:   float64(len(r.calls)) / float64(r.maxCalls),
	}
}
