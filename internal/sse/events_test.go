package sse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/safety"
)

const barcode = "4006381333931"

func TestFromProductWrite(t *testing.T) {
	now := time.Now()
	p := domain.NewPlaceholder(barcode, now)
	scored := p.Clone()
	scored.SetScore(safety.Score{Value: 72.5, Color: safety.Yellow})

	tests := []struct {
		name string
		w    domain.ProductWrite
		want EventType
	}{
		{"created", domain.ProductWrite{ProductID: barcode, Kind: domain.WriteCreated, After: p, Origin: domain.OriginProvision}, EventProductCreated},
		{"user edit", domain.ProductWrite{ProductID: barcode, Kind: domain.WriteUpdated, Before: p, After: p, Origin: domain.OriginUserEdit}, EventProductUpdated},
		{"link change", domain.ProductWrite{ProductID: barcode, Kind: domain.WriteUpdated, Before: p, After: p, Origin: domain.OriginLinkChange}, EventProductLinksChanged},
		{"ingredient change", domain.ProductWrite{ProductID: barcode, Kind: domain.WriteUpdated, Before: p, After: p, Origin: domain.OriginIngredientChange}, EventProductLinksChanged},
		{"score", domain.ProductWrite{ProductID: barcode, Kind: domain.WriteUpdated, Before: p, After: scored, Origin: domain.OriginScoreEngine}, EventProductScoreUpdated},
		{"deleted", domain.ProductWrite{ProductID: barcode, Kind: domain.WriteDeleted, Before: p, Origin: domain.OriginUserEdit}, EventProductDeleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := FromProductWrite(tt.w)
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, []string{barcode}, ev.ProductIDs)
			assert.False(t, ev.Timestamp.IsZero())
		})
	}
}

func TestFromProductWrite_ScorePayload(t *testing.T) {
	before := domain.NewPlaceholder(barcode, time.Now())
	before.SetScore(safety.Score{Value: 90, Color: safety.Green})
	after := before.Clone()
	after.SetScore(safety.Score{Value: 40, Color: safety.Red})

	ev := FromProductWrite(domain.ProductWrite{
		ProductID: barcode, Kind: domain.WriteUpdated, Before: before, After: after, Origin: domain.OriginScoreEngine,
	})

	data, ok := ev.Data.(ScoreEventData)
	require.True(t, ok)
	assert.Equal(t, barcode, data.ProductID)
	assert.InDelta(t, 40, data.SafetyScore, 1e-12)
	assert.Equal(t, safety.Red, data.SafetyColor)
	require.NotNil(t, data.PreviousScore)
	assert.InDelta(t, 90, *data.PreviousScore, 1e-12)
	assert.Equal(t, safety.Green, data.PreviousColor)
}

func TestFromIngredientWrite(t *testing.T) {
	ing := &domain.Ingredient{ID: "ing-1", Name: "Sugar"}

	ev := FromIngredientWrite(domain.IngredientWrite{Kind: domain.WriteCreated, After: ing})
	assert.Equal(t, EventIngredientCreated, ev.Type)
	assert.Empty(t, ev.ProductIDs)

	ev = FromIngredientWrite(domain.IngredientWrite{Kind: domain.WriteUpdated, After: ing, ProductIDs: []string{barcode}})
	assert.Equal(t, EventIngredientUpdated, ev.Type)
	assert.Equal(t, []string{barcode}, ev.ProductIDs)
}
