// Package prompts builds the prompt text for each agent role: the medical gate
// classifier, the symptom conversation agent, the translator and the visual
// analysis agent. Every builder is pure and deterministic.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ent0n29/aidex/internal/memory"
)

// SafetyDisclaimer closes every conversation and visual analysis reply.
const SafetyDisclaimer = "Please remember, I am an AI assistant and not a doctor. " +
	"For any health concerns, please consult a qualified healthcare professional."

// DefaultVisualInstruction is used when a video frame carries no prompt.
const DefaultVisualInstruction = "Analyze the user's visual state and emotion."

// GateKey is the single boolean key the gate classifier must return.
const GateKey = "is_medical"

type gateExample struct {
	query     string
	isMedical bool
}

var gateExamples = []gateExample{
	{"I have a headache and a fever.", true},
	{"What are the side effects of ibuprofen?", true},
	{"What is the capital of France?", false},
	{"Hello, how are you?", false},
	{"My stomach hurts.", true},
}

// Gate asks the classifier whether query is medical. The answer must be a
// JSON object with the single boolean key is_medical.
func Gate(query string) string {
	var b strings.Builder
	b.WriteString("You are a classification model for a medical assistant AI. ")
	b.WriteString("Your task is to determine if the user's query is related to medicine, health, symptoms, or wellness.\n\n")
	fmt.Fprintf(&b, "Analyze the following user query: %q\n\n", query)
	fmt.Fprintf(&b, "Respond with a JSON object containing a single key %q which is a boolean.\n", GateKey)
	fmt.Fprintf(&b, "- If the query is medical, wellness, or health-related, set %q to true.\n", GateKey)
	fmt.Fprintf(&b, "- If the query is NOT medical (e.g., asking about math, history, coding, or casual conversation), set %q to false.\n\n", GateKey)
	b.WriteString("Examples:\n")
	for _, ex := range gateExamples {
		fmt.Fprintf(&b, "- Query: %q -> {%q: %t}\n", ex.query, GateKey, ex.isMedical)
	}
	return b.String()
}

// Conversation builds the symptom conversation prompt with the session history
// rendered as ordered "role: content" lines.
func Conversation(query string, history []memory.Turn) string {
	var b strings.Builder
	b.WriteString("You are Aidex, a friendly, empathetic, and highly conversational AI medical assistant.\n")
	b.WriteString("Your goal is to help the user understand their symptoms better by asking clarifying questions.\n")
	b.WriteString("You are NOT a doctor and you MUST NOT provide a diagnosis or prescribe medication.\n\n")
	b.WriteString("Conversation flow:\n")
	b.WriteString("1. Acknowledge the user's symptom with empathy.\n")
	b.WriteString("2. Ask at least TWO clarifying questions (e.g., when it started, how it feels, what makes it better or worse).\n")
	b.WriteString("3. Keep your response concise but warm.\n")
	b.WriteString("4. End every single response with this exact disclaimer:\n")
	fmt.Fprintf(&b, "%q\n\n", SafetyDisclaimer)
	b.WriteString("Chat history (for context):\n")
	b.WriteString(FormatHistory(history))
	fmt.Fprintf(&b, "\nCurrent user query: %q\n\n", query)
	b.WriteString("Now, generate a response based on this query and the history.\n")
	return b.String()
}

// FormatHistory renders turns in chronological order, one per line.
func FormatHistory(history []memory.Turn) string {
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return strings.Join(lines, "\n")
}

// Translation asks for a direct translation of text into the language named by code.
func Translation(text, code string) string {
	language, _ := LanguageName(code)
	var b strings.Builder
	fmt.Fprintf(&b, "You are a translation model. Translate the following text into %s.\n", language)
	b.WriteString("Do not add any extra commentary or explanation, just provide the direct translation.\n\n")
	fmt.Fprintf(&b, "Text to translate: %q\n", text)
	return b.String()
}

// Visual builds the webcam frame analysis prompt.
func Visual(instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultVisualInstruction
	}
	var b strings.Builder
	b.WriteString("You are an AI medical assistant with visual analysis capabilities.\n")
	b.WriteString("You will be given an image from a user's webcam and a text request. Analyze the image based on the request.\n\n")
	b.WriteString("Guidelines:\n")
	b.WriteString("- Be descriptive and objective. Describe only what you see in the image.\n")
	b.WriteString("- If asked about emotions, describe facial expressions.\n")
	b.WriteString("- If asked about a physical symptom (like a rash or swelling), describe its appearance.\n")
	b.WriteString("- Do not diagnose. State that a visual analysis is not a substitute for a professional medical examination.\n")
	b.WriteString("- Always end with this disclaimer:\n")
	fmt.Fprintf(&b, "%q\n\n", SafetyDisclaimer)
	fmt.Fprintf(&b, "User's request: %q\n", instruction)
	return b.String()
}
