package intent

// Rules holds the keyword tables used by the Classifier. All entries are
// matched case-insensitively.
type Rules struct {
	// TriggerPhrases must equal the whole message.
	TriggerPhrases []string
	// TopicKeywords and ActionKeywords form the flexible trigger rule: a
	// message containing at least one of each opens a session.
	TopicKeywords  []string
	ActionKeywords []string

	EnglishMarkers []string
	HindiMarkers   []string

	DemoYesKeywords []string
	DemoNoKeywords  []string
}

// DefaultRules returns the production keyword tables.
func DefaultRules() Rules {
	return Rules{
		TriggerPhrases: []string{
			"hello! can i get more info on this?",
			"can i get more info on this?",
			"can i get info on this?",
			"hello can i get more info",
			"hello can i get info",
			"can i get more info",
			"can i get info",
			"get more info",
			"get info",
			"more info please",
			"info please",
			"information please",
			"tell me more",
			"more details",
			"student ai info",
			"about student ai",
			"what is student ai",
		},
		TopicKeywords: []string{
			"hello", "info", "more info", "information", "details", "tell me", "about", "student ai",
		},
		ActionKeywords: []string{
			"can", "get", "want", "need", "give", "send", "share", "show", "provide", "tell",
		},
		EnglishMarkers: []string{
			"1", "english", "eng", "english please", "i want english", "en", "e",
		},
		HindiMarkers: []string{
			"2", "hindi", "hin", "hindi please", "i want hindi", "हिंदी", "हिन्दी", "hi", "h",
		},
		DemoYesKeywords: []string{
			"yes", "yeah", "yep", "yup", "y", "sure", "ok", "okay", "interested",
			"want demo", "show demo", "demo please", "i want demo", "demo", "see demo",
			"हाँ", "हां", "जी हाँ", "जी हां", "जी",
			"video", "show", "watch", "play", "start", "go ahead", "proceed", "continue",
		},
		DemoNoKeywords: []string{
			"no", "nope", "nah", "not interested", "no demo", "skip", "no thanks", "not now", "later",
			"नहीं", "ना", "जी नहीं",
			"contact", "info", "details", "website", "direct", "straight", "information",
		},
	}
}
