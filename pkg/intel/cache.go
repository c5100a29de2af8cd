package intel

import (
	"strings"
	"sync"

	"github.com/fluxline/fluxline/pkg/models"
)

const (
	prefixLength       = 100
	hitConfidenceBoost = 0.05
	maxConfidence      = 0.99
)

// KnowledgeBase is a capacity-bounded cache of previously seen error
// patterns. It is owned by the orchestrator instance that receives it, not
// process-wide, so tests can construct isolated instances.
type KnowledgeBase struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]models.Classification
	order    []string // insertion order for eviction
}

func NewKnowledgeBase(capacity int) *KnowledgeBase {
	if capacity <= 0 {
		capacity = 128
	}

	return &KnowledgeBase{
		capacity: capacity,
		entries:  make(map[string]models.Classification, capacity),
	}
}

// Lookup matches the message against stored error prefixes. A hit returns
// the cached classification with a small confidence boost.
func (kb *KnowledgeBase) Lookup(message string) (models.Classification, bool) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for _, prefix := range kb.order {
		if !strings.Contains(message, prefix) {
			continue
		}

		classification := kb.entries[prefix]

		classification.Confidence += hitConfidenceBoost
		if classification.Confidence > maxConfidence {
			classification.Confidence = maxConfidence
		}

		return classification, true
	}

	return models.Classification{}, false
}

// Store caches a classification keyed by the message's prefix, evicting the
// oldest entry when at capacity.
func (kb *KnowledgeBase) Store(message string, classification models.Classification) {
	prefix := message
	if len(prefix) > prefixLength {
		prefix = prefix[:prefixLength]
	}

	if prefix == "" {
		return
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.entries[prefix]; ok {
		kb.entries[prefix] = classification

		return
	}

	if len(kb.order) >= kb.capacity {
		oldest := kb.order[0]
		kb.order = kb.order[1:]
		delete(kb.entries, oldest)
	}

	kb.entries[prefix] = classification
	kb.order = append(kb.order, prefix)
}

// Len reports the number of cached patterns.
func (kb *KnowledgeBase) Len() int {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	return len(kb.order)
}
