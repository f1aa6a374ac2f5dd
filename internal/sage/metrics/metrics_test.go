package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot(t *testing.T) {
	m := New()

	m.RecordQuery(false, nil)
	m.RecordQuery(true, nil)
	m.RecordQuery(false, errors.New("boom"))
	m.RecordRetrieval(10*time.Millisecond, nil)
	m.RecordRetrieval(30*time.Millisecond, nil)
	m.RecordRetrieval(time.Second, errors.New("boom"))
	m.RecordGeneration(100*time.Millisecond, nil)
	m.RecordProfileUpdate(nil)
	m.RecordProfileUpdate(errors.New("boom"))
	m.RecordRecommendation()
	m.RecordFeedback()
	m.RecordDocument()
	m.RecordIndexing(3, 42, nil)

	c := m.Snapshot()
	assert.Equal(t, uint64(3), c.Queries)
	assert.Equal(t, uint64(1), c.QueryErrors)
	assert.Equal(t, uint64(1), c.InsufficientAnswers)
	assert.Equal(t, uint64(3), c.Retrievals)
	assert.Equal(t, uint64(1), c.RetrievalErrors)
	assert.InDelta(t, 20.0, c.RetrievalAvgMS, 0.001)
	assert.InDelta(t, 100.0, c.GenerationAvgMS, 0.001)
	assert.Equal(t, uint64(1), c.ProfileUpdates)
	assert.Equal(t, uint64(1), c.ProfileUpdateErrors)
	assert.Equal(t, uint64(1), c.RecommendationCalls)
	assert.Equal(t, uint64(1), c.FeedbackReceived)
	assert.Equal(t, uint64(1), c.DocumentsServed)
	assert.Equal(t, uint64(3), c.DocumentsIndexed)
	assert.Equal(t, uint64(42), c.ChunksIndexed)
}

func TestExport(t *testing.T) {
	m := New()
	m.RecordQuery(false, nil)
	m.RecordQuery(false, nil)

	out := m.Export("sage")
	assert.Contains(t, out, "# TYPE sage_queries_total counter")
	assert.Contains(t, out, "sage_queries_total 2\n")
	assert.True(t, strings.HasPrefix(out, "# HELP sage_uptime_seconds"))
}
