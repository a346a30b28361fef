package schema

import (
	"strings"

	"github.com/veridia/parley/internal/util"
	"github.com/veridia/parley/record"
)

// scoreQuality computes the per-record quality components exactly once, at
// validation time. Heuristic, deliberately cheap; downstream fairness
// analysis owns the real scoring.
func scoreQuality(rec *record.ConversationRecord) record.QualityScore {
	completeness := scoreCompleteness(rec)
	coherence := scoreCoherence(rec.Turns)
	relevance := scoreRelevance(rec.Turns)

	return record.QualityScore{
		Completeness: completeness,
		Coherence:    coherence,
		Relevance:    relevance,
		RawScore:     (completeness + coherence + relevance) / 3.0 * 10.0,
	}
}

// scoreCompleteness rewards populated optional fields: title, per-turn
// timestamps, and non-trivial content everywhere.
func scoreCompleteness(rec *record.ConversationRecord) float64 {
	score := 0.0
	if rec.Title != "" {
		score += 0.2
	}

	nonTrivial := 0
	stamped := 0
	for _, turn := range rec.Turns {
		if len(strings.TrimSpace(turn.Content)) >= 3 {
			nonTrivial++
		}
		if turn.Timestamp != nil {
			stamped++
		}
	}
	n := float64(len(rec.Turns))
	score += 0.5 * float64(nonTrivial) / n
	score += 0.3 * float64(stamped) / n

	return clamp01(score)
}

// scoreCoherence measures how evenly sized the turns are; monologues
// interleaved with one-word acknowledgements score low.
func scoreCoherence(turns []record.SpeakerTurn) float64 {
	if len(turns) == 0 {
		return 0
	}

	total := 0
	for _, t := range turns {
		total += len(t.Content)
	}
	mean := float64(total) / float64(len(turns))
	if mean == 0 {
		return 0
	}

	var dev float64
	for _, t := range turns {
		dev += util.AbsFloat64(float64(len(t.Content)) - mean)
	}
	dev /= float64(len(turns))

	return clamp01(1.0 - dev/(mean+dev))
}

// scoreRelevance approximates topical continuity as lexical overlap between
// consecutive turns.
func scoreRelevance(turns []record.SpeakerTurn) float64 {
	if len(turns) < 2 {
		return 0
	}

	var sum float64
	pairs := 0
	prev := tokenSet(turns[0].Content)
	for _, turn := range turns[1:] {
		cur := tokenSet(turn.Content)
		sum += jaccard(prev, cur)
		pairs++
		prev = cur
	}

	// Raw Jaccard on short conversational turns is harsh; stretch it so a
	// modest overlap still reads as relevant.
	return clamp01(sum / float64(pairs) * 3.0)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]")
		if len(tok) >= 3 {
			set[tok] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
