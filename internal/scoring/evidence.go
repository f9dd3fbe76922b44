package scoring

// Evidence bundles the candidate sources of what the learner said, in
// strict priority order: live-recognizer highlight indices, the client's
// full transcript, then the server-side ASR text.
type Evidence struct {
	HighlightIndices []int
	ClientTranscript string
	ASRText          string
}

type resolver func(expected []Token, ev Evidence) (Result, bool)

// resolvers is the ordered fallback chain. Each returns false when its
// source carries no signal, letting the next one try.
var resolvers = []resolver{
	resolveHighlights,
	resolveClientTranscript,
	resolveASR,
}

// Resolve scores the prompt against the highest-priority evidence source
// that carries any signal. With no signal at all the result is a zero score
// with every expected token missing.
func Resolve(prompt string, ev Evidence) Result {
	expected := Tokenize(prompt)
	for _, r := range resolvers {
		if res, ok := r(expected, ev); ok {
			return res
		}
	}
	res := Result{Total: len(expected), Source: SourceNone}
	for _, e := range expected {
		res.MissingWords = append(res.MissingWords, e.Clean)
	}
	return res
}

func resolveHighlights(expected []Token, ev Evidence) (Result, bool) {
	if len(ev.HighlightIndices) == 0 {
		return Result{}, false
	}
	res := FromHighlights(expected, ev.HighlightIndices)
	res.Source = SourceHighlights
	return res, true
}

func resolveClientTranscript(expected []Token, ev Evidence) (Result, bool) {
	transcript := Tokenize(ev.ClientTranscript)
	if len(transcript) == 0 {
		return Result{}, false
	}
	res := Align(expected, transcript)
	res.Source = SourceClientTranscript
	return res, true
}

func resolveASR(expected []Token, ev Evidence) (Result, bool) {
	transcript := Tokenize(ev.ASRText)
	if len(transcript) == 0 {
		return Result{}, false
	}
	res := Align(expected, transcript)
	res.Source = SourceASR
	return res, true
}
