package engine

// GovernorOptions configures the loss governor. A zero StreakTrigger
// disables it.
type GovernorOptions struct {
	StreakTrigger int
	GapBump       float64
	SizeFactor    float64
}

// governor tightens entry on a coin after consecutive losing resolutions:
// the minimum gap is raised and the spend shrunk until the next win.
type governor struct {
	opts    GovernorOptions
	streaks map[string]int
}

func newGovernor(opts GovernorOptions) *governor {
	if opts.SizeFactor <= 0 || opts.SizeFactor > 1 {
		opts.SizeFactor = 1
	}
	return &governor{opts: opts, streaks: make(map[string]int)}
}

// engaged reports whether coin is currently throttled.
func (g *governor) engaged(coin string) bool {
	return g.opts.StreakTrigger > 0 && g.streaks[coin] >= g.opts.StreakTrigger
}

// adjust returns the gap bump and the spend factor for coin.
func (g *governor) adjust(coin string) (gapBump, sizeFactor float64) {
	if !g.engaged(coin) {
		return 0, 1
	}
	return g.opts.GapBump, g.opts.SizeFactor
}

// record feeds a resolved PnL. Losses extend the streak, wins reset it and
// flat results leave it alone. It returns whether the throttle state changed.
func (g *governor) record(coin string, pnl float64) bool {
	before := g.engaged(coin)
	switch {
	case pnl < 0:
		g.streaks[coin]++
	case pnl > 0:
		g.streaks[coin] = 0
	}
	return before != g.engaged(coin)
}

func (g *governor) streak(coin string) int {
	return g.streaks[coin]
}
