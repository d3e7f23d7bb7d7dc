package resolver_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/resolver"
)

func TestComputeOutcomeFromValues(t *testing.T) {
	f := domain.Float
	tests := []struct {
		name             string
		price, threshold *float64
		want             domain.Outcome
	}{
		{"above", f(101), f(100), domain.OutcomeUp},
		{"equal is up", f(100), f(100), domain.OutcomeUp},
		{"below", f(99.99), f(100), domain.OutcomeDown},
		{"nil price", nil, f(100), domain.OutcomeUnknown},
		{"nil threshold", f(100), nil, domain.OutcomeUnknown},
		{"zero threshold", f(100), f(0), domain.OutcomeUnknown},
		{"negative threshold", f(100), f(-1), domain.OutcomeUnknown},
		{"NaN price", f(math.NaN()), f(100), domain.OutcomeUnknown},
		{"Inf price", f(math.Inf(1)), f(100), domain.OutcomeUnknown},
		{"Inf threshold", f(100), f(math.Inf(1)), domain.OutcomeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.ComputeOutcomeFromValues(tt.price, tt.threshold))
		})
	}
}

func TestComputeOutcomeFromValues_Random(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		price := r.Float64()*200 - 50
		threshold := r.Float64() * 150
		if threshold == 0 {
			continue
		}
		got := resolver.ComputeOutcomeFromValues(&price, &threshold)
		if price >= threshold {
			assert.Equal(t, domain.OutcomeUp, got)
		} else {
			assert.Equal(t, domain.OutcomeDown, got)
		}
	}
}
