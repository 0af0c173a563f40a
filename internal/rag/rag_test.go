package rag

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimings_JSONMilliseconds(t *testing.T) {
	in := Timings{Retrieval: 12500 * time.Microsecond, Generation: 2 * time.Second, Total: 2013 * time.Millisecond}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"retrieval_ms":12.5,"rerank_ms":0,"generation_ms":2000,"total_ms":2013}`, string(data))

	var out Timings
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestAnswer_Err(t *testing.T) {
	assert.ErrorIs(t, (&Answer{Outcome: OutcomeNoDocuments}).Err(), ErrNoDocumentsIndexed)
	assert.ErrorIs(t, (&Answer{Outcome: OutcomeNoRelevantContent}).Err(), ErrNoRelevantContent)
	assert.NoError(t, (&Answer{Outcome: OutcomeRefused}).Err())
	assert.NoError(t, (&Answer{Outcome: OutcomeAnswered}).Err())
}
