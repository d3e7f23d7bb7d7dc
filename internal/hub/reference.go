package hub

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// scheduleReference runs reference discovery once the window is open. Once
// an authoritative value is set discovery stops; a recheckable value keeps
// being rechecked against its own and higher-priority sources.
func (h *Hub) scheduleReference(ctx context.Context, inst *instrument, now time.Time) {
	m := inst.snap.Market
	if m.IsZero() || inst.refBusy || !inst.refSched.Due(now) {
		return
	}
	if !m.OpenTime.IsZero() && now.Before(m.OpenTime) {
		return
	}

	srcs := h.venue.ReferenceSources()
	if cur := inst.snap.Reference; cur.Set() && cur.Recheckable {
		for i, src := range srcs {
			if src == cur.Source {
				srcs = srcs[:i+1]
				break
			}
		}
	}
	if len(srcs) == 0 {
		inst.refSched.Succeeded()
		return
	}

	inst.refBusy = true
	h.async(ctx, func(fctx context.Context) func() {
		found, err := h.discover(fctx, m, srcs)
		return func() { h.applyReference(inst, m, found, err) }
	})
}

// discover tries srcs in order; the first usable value wins.
func (h *Hub) discover(ctx context.Context, m domain.Market, srcs []domain.ReferenceSource) (domain.ReferencePrice, error) {
	var errs []error
	for _, src := range srcs {
		v, recheck, err := h.venue.LookupReference(ctx, m, src)
		if err == nil && (v <= 0 || math.IsNaN(v) || math.IsInf(v, 0)) {
			err = domain.ErrNotFound
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src, err))
			continue
		}
		return domain.ReferencePrice{
			Value:       v,
			Source:      src,
			Recheckable: recheck,
			UpdatedAt:   h.opts.Clock(),
		}, nil
	}
	return domain.ReferencePrice{}, errors.Join(errs...)
}

func (h *Hub) applyReference(inst *instrument, m domain.Market, found domain.ReferencePrice, err error) {
	inst.refBusy = false
	if inst.snap.Market.Key() != m.Key() {
		// Rotated while the lookup was in flight.
		return
	}
	now := h.opts.Clock()
	coin := inst.snap.Coin

	if err != nil {
		inst.refSched.Failed(now)
		if !inst.snap.Reference.Set() && !inst.refWarned && inst.refSched.Attempts() >= 3 {
			inst.refWarned = true
			h.journal.Warn(domain.KindReference, coin, "reference price still missing",
				"market", m.ID,
				"attempts", inst.refSched.Attempts(),
				"error", err,
			)
		}
		return
	}

	h.mu.Lock()
	prev := inst.snap.Reference
	inst.snap.Reference = found
	if k := inst.snap.Fields.Kalshi; k != nil && found.Source == domain.RefPriceToBeat {
		k.FloorStrike = found.Value
	}
	h.mu.Unlock()

	if found.Recheckable {
		inst.refSched.Failed(now)
	} else {
		inst.refSched.Succeeded()
	}
	if prev.Value != found.Value || prev.Source != found.Source {
		h.journal.Info(domain.KindReference, coin, "reference price set",
			"market", m.ID,
			"source", string(found.Source),
			"value", found.Value,
			"recheckable", found.Recheckable,
			"previous", prev.Value,
		)
	}
}
