package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt_NumbersSourcesInOrder(t *testing.T) {
	sources := FromCandidates([]Candidate{candidate("first passage", 0.9), candidate("second passage", 0.8)}, 2)
	sources[1].Chunk.DocumentName = "handbook.txt"
	sources[1].Chunk.Metadata = map[string]string{"page": "4"}

	prompt := BuildPrompt("  What is covered?  ", sources)

	first := strings.Index(prompt, "[DOCUMENT 1]")
	second := strings.Index(prompt, "[DOCUMENT 2]")
	assert.True(t, first >= 0 && second > first)
	assert.Less(t, strings.Index(prompt, "first passage"), strings.Index(prompt, "second passage"))
	assert.Contains(t, prompt, "Source: handbook.txt (page 4)")
	assert.Contains(t, prompt, "QUESTION: What is covered?")
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
}

func TestBuildPrompt_ContainsRefusalInstruction(t *testing.T) {
	prompt := BuildPrompt("q", FromCandidates([]Candidate{candidate("x", 1)}, 1))
	assert.Contains(t, prompt, "reply with exactly: "+RefusalText)
	assert.Contains(t, prompt, "ONLY")
	assert.Contains(t, prompt, "Cite")
}

func TestBuildPrompt_EmptySources(t *testing.T) {
	prompt := BuildPrompt("anything?", nil)
	assert.Contains(t, prompt, "CONTEXT:\n"+emptyContext)
	assert.NotContains(t, prompt, "[DOCUMENT")
	assert.Contains(t, prompt, "QUESTION: anything?")
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, IsRefusal(RefusalText))
	assert.True(t, IsRefusal("  "+RefusalText+"\n"))
	assert.False(t, IsRefusal("I don't know."))
}
