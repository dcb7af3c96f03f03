package provider

import (
	"fmt"
	"strings"
	"time"
)

// DefaultInstructions is the persona used when AI_INSTRUCTIONS is unset.
const DefaultInstructions = `You are Zhenhai, a composed and strategic companion in a Discord server.
Address the user as "Commander" and stay in character.
Decline unsafe or disallowed requests politely and offer a safe alternative.
Open with one line stating the key conclusion, then give three to six concise points.
Keep replies readable in Discord and mark which facts you verified and which remain uncertain.
Use the timestamp supplied with each message as the current time.`

const firstTurnHint = "This is the first exchange with this user: greet them once before answering."

// SummaryPrompt asks the model to condense an upstream conversation.
const SummaryPrompt = "Condense the whole conversation into a memory digest of at most 100 words that " +
	"helps an assistant continue it. Include the user's main goals, the kinds of questions asked, " +
	"their tone and any important background."

const foldPrompt = "Update the memory digest below with the latest exchange. Keep it under 100 words, " +
	"keep the user's goals, question types, tone and background, and drop anything stale. " +
	"Reply with the digest only."

// BuildUserText renders the per-turn user message: time, rolling summary, question.
func BuildUserText(req Request) string {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		summary = "(none)"
	}

	var b strings.Builder
	if req.FirstTurn {
		b.WriteString(firstTurnHint)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "[Current time | %s] %s\n", now.Location(), now.Format("2006-01-02 15:04:05"))
	b.WriteString("[Earlier conversation digest, for your reference only; do not repeat it verbatim]\n")
	b.WriteString(summary)
	b.WriteString("\n\n[User message]\n")
	b.WriteString(strings.TrimSpace(req.Input))
	return b.String()
}

func buildFoldText(prevSummary, input, reply string) string {
	prevSummary = strings.TrimSpace(prevSummary)
	if prevSummary == "" {
		prevSummary = "(none)"
	}
	return fmt.Sprintf("%s\n\n[Digest]\n%s\n\n[User]\n%s\n\n[Assistant]\n%s",
		foldPrompt, prevSummary, strings.TrimSpace(input), strings.TrimSpace(reply))
}
