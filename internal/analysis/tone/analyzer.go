package tone

import "strings"

// Label is a categorical read of a message's communication style.
type Label string

const (
	Neutral         Label = "neutral"
	Calm            Label = "calm"
	Appreciative    Label = "appreciative"
	Assertive       Label = "assertive"
	Anxious         Label = "anxious"
	Sad             Label = "sad"
	Dismissive      Label = "dismissive"
	Defensive       Label = "defensive"
	Blaming         Label = "blaming"
	Confrontational Label = "confrontational"
	Aggressive      Label = "aggressive"
	Hostile         Label = "hostile"
)

// labelOrder fixes scoring precedence so ties resolve the same way on
// every run. Harsher labels win ties: a message that reads both hostile
// and dismissive should be surfaced as hostile.
var labelOrder = []Label{
	Hostile, Aggressive, Confrontational, Blaming, Dismissive, Defensive,
	Anxious, Sad, Assertive, Appreciative, Calm,
}

// Reading is the heuristic analysis result. Intensity runs 1-10,
// Sentiment -1..1.
type Reading struct {
	Label        Label
	Intensity    int
	Sentiment    float64
	TriggerWords []string
	Score        int
}

var keywordBuckets = map[Label][]string{
	Appreciative: {
		"thank you", "thanks", "i appreciate", "appreciate you", "grateful",
		"love you", "that means a lot", "proud of you", "you're the best",
	},
	Calm: {
		"let's slow down", "take a breath", "i understand", "that makes sense",
		"i hear you", "no rush", "let's talk", "we can figure", "i'm listening",
	},
	Assertive: {
		"i need", "i feel", "i would like", "it's important to me", "can we",
		"i want us", "let me explain", "i'd prefer",
	},
	Anxious: {
		"worried", "scared", "nervous", "afraid", "what if", "anxious",
		"overwhelmed", "can't stop thinking", "panicking",
	},
	Sad: {
		"sad", "hurt", "lonely", "crying", "heartbroken", "miss you",
		"disappointed", "let down", "feel invisible",
	},
	Dismissive: {
		"don't care", "whatever", "who cares", "so what", "doesn't matter",
		"forget it", "not my problem", "get over it", "calm down", "drop it",
	},
	Defensive: {
		"not my fault", "i didn't do anything", "why are you blaming me",
		"that's not what i said", "stop attacking me", "you're twisting",
	},
	Blaming: {
		"you never", "you always", "your fault", "because of you",
		"you made me", "you ruined", "if you had just", "you don't even",
	},
	Confrontational: {
		"oh really", "prove it", "is that so", "say that again",
		"what's your problem", "are you serious", "here we go again",
		"you want to go there",
	},
	Aggressive: {
		"shut up", "screw", "stupid", "idiot", "ridiculous", "sick of",
		"fed up", "pathetic", "unbelievable",
	},
	Hostile: {
		"hate", "pointless", "can't stand", "despise", "worthless", "useless",
		"leave me alone", "i'm done", "waste of time", "no point talking",
	},
}

var baseSentiment = map[Label]float64{
	Neutral:         0,
	Calm:            0.5,
	Appreciative:    0.8,
	Assertive:       0.2,
	Anxious:         -0.3,
	Sad:             -0.5,
	Dismissive:      -0.4,
	Defensive:       -0.4,
	Blaming:         -0.6,
	Confrontational: -0.6,
	Aggressive:      -0.8,
	Hostile:         -0.9,
}

// Analyze scores text against every keyword bucket and returns the best
// match. It never fails and always returns a label from the fixed set;
// text with no signal comes back Neutral.
func Analyze(text string) Reading {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Reading{Label: Neutral, Intensity: 1, Sentiment: 0}
	}

	scores := make(map[Label]int)
	triggers := make(map[Label][]string)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
				triggers[label] = append(triggers[label], word)
			}
		}
	}

	// Shouting reads as aggression even without a keyword hit.
	exclamations := strings.Count(text, "!")
	if exclamations > 1 {
		scores[Aggressive] += exclamations
	}
	if hasShoutedWord(text) {
		scores[Aggressive] += 2
	}

	best := Neutral
	bestScore := 0
	for _, label := range labelOrder {
		if scores[label] > bestScore {
			bestScore = scores[label]
			best = label
		}
	}

	if bestScore == 0 {
		return Reading{Label: Neutral, Intensity: 2, Sentiment: 0}
	}

	intensity := 2 + bestScore
	if exclamations > 0 {
		intensity++
	}
	if intensity > 10 {
		intensity = 10
	}

	return Reading{
		Label:        best,
		Intensity:    intensity,
		Sentiment:    baseSentiment[best],
		TriggerWords: triggers[best],
		Score:        bestScore,
	}
}

// ParseLabel validates a raw label against the fixed set.
func ParseLabel(raw string) (Label, bool) {
	normalized := Label(strings.ToLower(strings.TrimSpace(raw)))
	if normalized == Neutral {
		return Neutral, true
	}
	for _, label := range labelOrder {
		if normalized == label {
			return label, true
		}
	}
	return "", false
}

func hasShoutedWord(text string) bool {
	for _, word := range strings.Fields(text) {
		letters := 0
		upper := 0
		for _, r := range word {
			if r >= 'a' && r <= 'z' {
				letters++
			}
			if r >= 'A' && r <= 'Z' {
				letters++
				upper++
			}
		}
		if letters >= 3 && upper == letters {
			return true
		}
	}
	return false
}
