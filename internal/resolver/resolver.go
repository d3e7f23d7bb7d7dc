package resolver

import (
	"errors"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Resolution sources.
const (
	SourceOfficial      = "official"
	SourceOfficialPrice = "official_price"
	SourceForcedSpot    = "forced_spot"
	SourcePeer          = "peer"
	SourceTimeout       = "timeout"
)

// Options configures a Resolver.
type Options struct {
	Final FinalPriceOptions
	// OfficialWait is how long a computed outcome defers to a pending
	// official fetch.
	OfficialWait time.Duration
	// ForceAfter resolves with whatever is available.
	ForceAfter time.Duration
	// UnknownAfter gives up with UNKNOWN.
	UnknownAfter time.Duration
}

// Input is one leg to resolve. Snapshot must describe the leg's market; the
// caller keeps it after rotation and refreshes its spot history.
type Input struct {
	Leg      domain.LegIntent
	Snapshot domain.InstrumentSnapshot
	// Peer is the other leg's outcome in a dual-venue position, empty if none.
	Peer domain.Outcome
}

// Resolution is the result of one Resolve call.
type Resolution struct {
	Done       bool
	Outcome    domain.Outcome
	Source     string
	Forced     bool
	Threshold  Threshold
	FinalPrice FinalPrice
	Official   Official
	// Reason explains a pending or degraded resolution.
	Reason error
}

// Resolver combines official results with locally computed outcomes.
type Resolver struct {
	opts     Options
	trackers map[domain.Venue]*OfficialTracker
}

// New creates a Resolver. Venues without a tracker settle from prices only.
func New(opts Options, trackers map[domain.Venue]*OfficialTracker) *Resolver {
	if opts.UnknownAfter < opts.ForceAfter {
		opts.UnknownAfter = opts.ForceAfter
	}
	return &Resolver{opts: opts, trackers: trackers}
}

// Resolve settles a leg if enough information is available at now. An
// official outcome always wins. A computed outcome is used once the official
// fetch has finished or OfficialWait has passed. After ForceAfter any usable
// signal resolves the leg, and after UnknownAfter it resolves to UNKNOWN.
func (r *Resolver) Resolve(in Input, now time.Time) Resolution {
	closeAt := in.Leg.CloseTime
	if closeAt.IsZero() {
		closeAt = in.Snapshot.Market.CloseTime
	}
	res := Resolution{Outcome: domain.OutcomeUnknown, Reason: domain.ErrResultPending}
	if closeAt.IsZero() || now.Before(closeAt) {
		return res
	}
	sinceClose := now.Sub(closeAt)
	snap := in.Snapshot
	res.Threshold = ResolveThreshold(snap)

	tracker := r.trackers[in.Leg.Venue]
	officialPending := false
	if tracker != nil {
		tracker.Request(in.Leg.MarketID)
		if off, ok := tracker.Lookup(in.Leg.MarketID); ok {
			res.Official = off
			officialPending = !off.Done
		}
	}

	if res.Official.Outcome.Known() {
		return done(res, res.Official.Outcome, SourceOfficial, false)
	}
	if fp := res.Official.FinalPrice; fp != nil && !res.Threshold.Missing() {
		if Plausible(*fp, *res.Threshold.Value) {
			return done(res, ComputeOutcomeFromValues(fp, res.Threshold.Value), SourceOfficialPrice, false)
		}
		res.Reason = domain.ErrImplausiblePrice
	}

	forced := sinceClose >= r.opts.ForceAfter
	opts := r.opts.Final
	opts.CloseTime = closeAt
	opts.MarketID = in.Leg.MarketID
	res.FinalPrice = ComputeFinalPrice(snap, now, opts)

	if !res.FinalPrice.Pending() && !res.Threshold.Missing() &&
		(!officialPending || sinceClose >= r.opts.OfficialWait || forced) {
		out := ComputeOutcomeFromValues(res.FinalPrice.Value, res.Threshold.Value)
		return done(res, out, "computed_"+string(res.FinalPrice.Source), forced)
	}

	if forced {
		if !res.Threshold.Missing() && validPrice(snap.SpotPrice) {
			out := ComputeOutcomeFromValues(domain.Float(snap.SpotPrice), res.Threshold.Value)
			return done(res, out, SourceForcedSpot, true)
		}
		if in.Peer.Known() {
			return done(res, in.Peer, SourcePeer, true)
		}
	}
	if sinceClose >= r.opts.UnknownAfter {
		return done(res, domain.OutcomeUnknown, SourceTimeout, true)
	}

	if res.Threshold.Missing() {
		res.Reason = domain.ErrThresholdMissing
	}
	return res
}

// Forget releases official tracking for a market.
func (r *Resolver) Forget(venue domain.Venue, marketID string) {
	if t := r.trackers[venue]; t != nil {
		t.Forget(marketID)
	}
}

func done(res Resolution, out domain.Outcome, source string, forced bool) Resolution {
	res.Done = true
	res.Outcome = out
	res.Source = source
	res.Forced = forced
	if errors.Is(res.Reason, domain.ErrResultPending) {
		res.Reason = nil
	}
	return res
}
