// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package internal_type

import "strings"

// TutorMode selects the system prompt and greeting for a session.
type TutorMode string

const (
	ModeGeneral           TutorMode = "general"
	ModeSentenceStructure TutorMode = "sentence_structure"
	ModeGrammarPractice   TutorMode = "grammar_practice"
	ModeVocabularyBuilder TutorMode = "vocabulary_builder"
	ModeTopicDiscussion   TutorMode = "topic_discussion"
)

// modeProfile pairs the system prompt with the spoken greeting template.
// The greeting template has exactly one substitution: {name}.
type modeProfile struct {
	Instructions string
	Greeting     string
}

const promptCommon = " Always answer in English only, even when the learner uses another language. " +
	"Keep replies short and conversational, at most three sentences, and end with a question that keeps the learner talking."

var modeProfiles = map[TutorMode]modeProfile{
	ModeGeneral: {
		Instructions: "You are a friendly AI English tutor having a free-form conversation with a learner." + promptCommon,
		Greeting:     "Hi {name}, I'm your AI English tutor. How can I help you today?",
	},
	ModeSentenceStructure: {
		Instructions: "You are an AI English tutor focused on sentence structure. When the learner speaks, gently point out word-order " +
			"or clause problems, give one corrected version of their sentence, and ask them to try a similar sentence." + promptCommon,
		Greeting: "Hi {name}, let's work on building better sentences. Tell me about your day and we'll shape it into great English!",
	},
	ModeGrammarPractice: {
		Instructions: "You are an AI English tutor running a grammar practice session. Listen for tense, agreement and article mistakes, " +
			"correct at most one mistake per turn, explain it in a single short sentence, and ask a follow-up that exercises the same rule." + promptCommon,
		Greeting: "Hi {name}, ready for some grammar practice? Tell me what you did yesterday.",
	},
	ModeVocabularyBuilder: {
		Instructions: "You are an AI English tutor growing the learner's vocabulary. In every reply introduce one useful new word or phrase, " +
			"give a one-line meaning, use it in an example, and ask the learner to use it in their own sentence." + promptCommon,
		Greeting: "Hi {name}, let's learn some new words together. What topic interests you today?",
	},
	ModeTopicDiscussion: {
		Instructions: "You are an AI English tutor hosting a topic discussion. Keep the learner on one topic, ask opinion questions, " +
			"and offer a more natural phrasing for anything they struggle to express." + promptCommon,
		Greeting: "Hi {name}, pick any topic you like and let's discuss it in English!",
	},
}

// ParseTutorMode maps a wire mode string to a TutorMode, defaulting to
// general for unknown values.
func ParseTutorMode(raw string) TutorMode {
	mode := TutorMode(raw)
	if _, ok := modeProfiles[mode]; ok {
		return mode
	}
	return ModeGeneral
}

// Instructions returns the system prompt for the mode.
func (m TutorMode) Instructions() string {
	return modeProfiles[m].Instructions
}

// Greeting renders the mode's greeting template for the given learner name.
func (m TutorMode) Greeting(name string) string {
	return strings.ReplaceAll(modeProfiles[m].Greeting, "{name}", name)
}
