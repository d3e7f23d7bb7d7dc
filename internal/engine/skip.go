package engine

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// skipReason is why a coin did not commit this tick. Expected reasons are
// routine waits logged at INFO; actionable ones point at a data problem and
// are logged at WARN.
type skipReason struct {
	code       string
	message    string
	actionable bool
}

var (
	skipNoRules   = skipReason{"no_rules", "no rules configured", false}
	skipNoMarket  = skipReason{"no_market", "no active market", true}
	skipClosed    = skipReason{"closed", "market closed, waiting for rotation", false}
	skipStale     = skipReason{"stale", "market data not healthy", true}
	skipSlot      = skipReason{"slot_skew", "venue windows misaligned", true}
	skipWindow    = skipReason{"window", "outside rule window", false}
	skipThreshold = skipReason{"threshold", "threshold missing", true}
	skipSpot      = skipReason{"spot", "spot price missing", true}
	skipGap       = skipReason{"gap", "gap below minimum", false}
	skipBand      = skipReason{"band", "ask outside price band", false}
	skipGate      = skipReason{"gate", "secondary gate failed", false}
	skipBudget    = skipReason{"budget", "budget below minimum spend", false}
	skipExposure  = skipReason{"exposure", "exposure ceiling reached", false}
	skipNoFill    = skipReason{"no_fill", "book cannot fill", false}
	skipResolve   = skipReason{"resolve", "awaiting resolution", false}
)

// skipLog rate-limits skip telemetry per coin and reason. A reason that
// differs from the coin's previous one is always logged.
type skipLog struct {
	every    time.Duration
	limiters map[string]*rate.Limiter
	last     map[string]string
}

func newSkipLog(every time.Duration) *skipLog {
	return &skipLog{
		every:    every,
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]string),
	}
}

func (s *skipLog) allow(coin string, r skipReason, now time.Time) bool {
	key := coin + "|" + r.code
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.every), 1)
		s.limiters[key] = lim
	}
	changed := s.last[coin] != r.code
	s.last[coin] = r.code
	return lim.AllowN(now, 1) || changed
}

// skip records r as the coin's last skip and logs it when allowed.
func (c *core) skip(st *coinState, r skipReason, now time.Time, kv ...any) {
	st.view.LastSkip = r.code
	if !c.skips.allow(st.coin, r, now) {
		return
	}
	level := domain.LevelInfo
	if r.actionable {
		level = domain.LevelWarn
	}
	c.journal.Log(level, domain.KindSkip, st.coin, r.message, append([]any{"reason", r.code}, kv...)...)
}

func (s *skipLog) reset(coin string) {
	delete(s.last, coin)
}
