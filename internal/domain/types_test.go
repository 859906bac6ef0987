package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	assert.Empty(t, bar.Symbol)
	assert.True(t, bar.Timestamp.IsZero())
	assert.Zero(t, bar.Open+bar.High+bar.Low+bar.Close)

	c := OptionContract{}
	assert.Empty(t, c.Ticker)
	assert.True(t, c.StrikePrice.IsZero())

	// Verify enum constants are defined correctly.
	assert.Equal(t, "Cash", CashAsset)
	assert.Equal(t, Direction("In"), DirectionIn)
	assert.Equal(t, ContractType("call"), ContractCall)
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, DirectionIn.Valid())
	assert.True(t, DirectionOut.Valid())
	assert.False(t, Direction("Sideways").Valid())

	for _, c := range []Concept{ConceptInflow, ConceptPurchase, ConceptCallSold, ConceptCallExercised} {
		assert.True(t, c.Valid(), "concept %s", c)
	}
	assert.False(t, Concept("Dividend").Valid())

	assert.True(t, PhaseNone.Valid())
	assert.True(t, PhaseOpen.Valid())
	assert.True(t, PhaseClose.Valid())
	assert.False(t, Phase("Midday").Valid())
}

func TestConceptLabel(t *testing.T) {
	assert.Equal(t, "Call sold", ConceptCallSold.Label())
	assert.Equal(t, "Call exercised", ConceptCallExercised.Label())
	assert.Equal(t, "Custom", Concept("Custom").Label())
}

func TestParseConcept(t *testing.T) {
	tests := []struct {
		in   string
		want Concept
	}{
		{"Inflow", ConceptInflow},
		{"CallSold", ConceptCallSold},
		{"Call sold", ConceptCallSold},
		{"call exercised", ConceptCallExercised},
	}
	for _, tt := range tests {
		got, err := ParseConcept(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseConcept("Split")
	assert.Error(t, err)
}
