package engine

import (
	"regexp"
	"strings"
)

// FinalAnswerMarker is the textual convention a model reply uses to signal
// loop termination with a result. It is part of the wire contract with the
// model and must match the system prompt.
const FinalAnswerMarker = "FINAL_ANSWER:"

// ActionKind tags a parsed model reply.
type ActionKind int

const (
	// KindUnrecognized means the reply contained neither a final answer
	// nor a code block.
	KindUnrecognized ActionKind = iota
	// KindFinalAnswer means the reply signalled termination; Text holds
	// the answer.
	KindFinalAnswer
	// KindCode means the reply contained a fenced code block; Text holds
	// the code.
	KindCode
)

// Action is the tagged result of parsing one model reply.
type Action struct {
	Kind ActionKind
	Text string
}

// fenceRe matches a fenced code block with an optional language tag.
var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*[ \t]*\n(.*?)```")

// ParseReply classifies a model reply into a final answer, a code block, or
// neither.
//
// Precedence rules (the wire contract):
//   - a FINAL_ANSWER marker outside any code fence wins, even when code
//     blocks are also present; the answer is everything after the marker
//   - a marker inside a fence is code, not an answer
//   - with multiple code blocks, the first is picked
func ParseReply(reply string) Action {
	fences := fenceRe.FindAllStringSubmatchIndex(reply, -1)

	if idx := unfencedMarkerIndex(reply, fences); idx >= 0 {
		answer := strings.TrimSpace(reply[idx+len(FinalAnswerMarker):])
		return Action{Kind: KindFinalAnswer, Text: answer}
	}

	if len(fences) > 0 {
		code := strings.TrimSpace(reply[fences[0][2]:fences[0][3]])
		if code != "" {
			return Action{Kind: KindCode, Text: code}
		}
	}

	return Action{Kind: KindUnrecognized}
}

// unfencedMarkerIndex returns the index of the first FINAL_ANSWER marker that
// does not fall inside a fenced region, or -1.
func unfencedMarkerIndex(reply string, fences [][]int) int {
	offset := 0
	for {
		rel := strings.Index(reply[offset:], FinalAnswerMarker)
		if rel < 0 {
			return -1
		}
		idx := offset + rel
		if !insideFence(idx, fences) {
			return idx
		}
		offset = idx + len(FinalAnswerMarker)
	}
}

func insideFence(idx int, fences [][]int) bool {
	for _, f := range fences {
		if idx >= f[0] && idx < f[1] {
			return true
		}
	}
	return false
}
