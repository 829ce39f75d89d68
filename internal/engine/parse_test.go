package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReply_FinalAnswer(t *testing.T) {
	action := ParseReply("I am done now.\nFINAL_ANSWER: the total is $7,623.00")
	assert.Equal(t, KindFinalAnswer, action.Kind)
	assert.Equal(t, "the total is $7,623.00", action.Text)
}

func TestParseReply_CodeBlock(t *testing.T) {
	action := ParseReply("Let me check.\n```go\nfmt.Println(len(Docs))\n```\n")
	assert.Equal(t, KindCode, action.Kind)
	assert.Equal(t, "fmt.Println(len(Docs))", action.Text)
}

func TestParseReply_BareFence(t *testing.T) {
	action := ParseReply("```\nx := 1\nfmt.Println(x)\n```")
	assert.Equal(t, KindCode, action.Kind)
	assert.Equal(t, "x := 1\nfmt.Println(x)", action.Text)
}

func TestParseReply_MarkerInsideFenceIsCode(t *testing.T) {
	reply := "```go\ns := \"FINAL_ANSWER: not really\"\nfmt.Println(s)\n```"
	action := ParseReply(reply)
	assert.Equal(t, KindCode, action.Kind)
	assert.Contains(t, action.Text, "FINAL_ANSWER")
}

func TestParseReply_MarkerOutsideFenceWinsOverCode(t *testing.T) {
	reply := "FINAL_ANSWER: 42\n\n```go\nfmt.Println(\"unreached\")\n```"
	action := ParseReply(reply)
	assert.Equal(t, KindFinalAnswer, action.Kind)
	assert.Contains(t, action.Text, "42")
}

func TestParseReply_MarkerAfterFenceStillWins(t *testing.T) {
	reply := "```go\nfmt.Println(1)\n```\nFINAL_ANSWER: done"
	action := ParseReply(reply)
	assert.Equal(t, KindFinalAnswer, action.Kind)
	assert.Equal(t, "done", action.Text)
}

func TestParseReply_FirstFenceWins(t *testing.T) {
	reply := "```go\nfirst()\n```\ntext between\n```go\nsecond()\n```"
	action := ParseReply(reply)
	assert.Equal(t, KindCode, action.Kind)
	assert.Equal(t, "first()", action.Text)
}

func TestParseReply_FencedMarkerThenRealMarker(t *testing.T) {
	reply := "```go\nfmt.Println(\"FINAL_ANSWER: fake\")\n```\nFINAL_ANSWER: real"
	action := ParseReply(reply)
	assert.Equal(t, KindFinalAnswer, action.Kind)
	assert.Equal(t, "real", action.Text)
}

func TestParseReply_Unrecognized(t *testing.T) {
	action := ParseReply("Let me think about this a bit more.")
	assert.Equal(t, KindUnrecognized, action.Kind)
	assert.Empty(t, action.Text)
}

func TestParseReply_EmptyFenceIsUnrecognized(t *testing.T) {
	action := ParseReply("```go\n```")
	assert.Equal(t, KindUnrecognized, action.Kind)
}
