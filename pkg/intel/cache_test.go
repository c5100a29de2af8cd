package intel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxline/fluxline/pkg/models"
)

func TestKnowledgeBase_LookupBoostsConfidence(t *testing.T) {
	kb := NewKnowledgeBase(8)

	kb.Store(`column "x" does not exist`, models.Classification{
		Category:   models.FailureSchemaChange,
		Confidence: 0.9,
	})

	cached, ok := kb.Lookup(`pq: column "x" does not exist at line 3`)
	require.True(t, ok)

	assert.Equal(t, models.FailureSchemaChange, cached.Category)
	assert.InDelta(t, 0.95, cached.Confidence, 0.001)
}

func TestKnowledgeBase_ConfidenceCapped(t *testing.T) {
	kb := NewKnowledgeBase(8)

	kb.Store("timeout", models.Classification{
		Category:   models.FailureTimeout,
		Confidence: 0.98,
	})

	cached, ok := kb.Lookup("query timeout exceeded")
	require.True(t, ok)

	assert.InDelta(t, 0.99, cached.Confidence, 0.001)
}

func TestKnowledgeBase_MissReturnsFalse(t *testing.T) {
	kb := NewKnowledgeBase(8)

	_, ok := kb.Lookup("never seen before")
	assert.False(t, ok)
}

func TestKnowledgeBase_EvictsOldestAtCapacity(t *testing.T) {
	kb := NewKnowledgeBase(3)

	for i := 0; i < 4; i++ {
		kb.Store(fmt.Sprintf("pattern-%d", i), models.Classification{
			Category:   models.FailureUnknown,
			Confidence: 0.3,
		})
	}

	assert.Equal(t, 3, kb.Len())

	_, ok := kb.Lookup("pattern-0")
	assert.False(t, ok, "oldest pattern should be evicted")

	_, ok = kb.Lookup("pattern-3")
	assert.True(t, ok)
}

func TestKnowledgeBase_TruncatesLongPrefixes(t *testing.T) {
	kb := NewKnowledgeBase(8)

	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij"
	}

	kb.Store(long, models.Classification{Category: models.FailureUnknown, Confidence: 0.3})

	_, ok := kb.Lookup(long)
	assert.True(t, ok, "lookup against the full message should match the stored prefix")
}
