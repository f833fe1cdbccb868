package conditions

import (
	"context"
	"strings"
	"time"
)

// DefaultAIBudget bounds one AI predicate round-trip.
const DefaultAIBudget = 10 * time.Second

const booleanInstruction = "Answer with exactly one word: true or false. Do not explain."

var truthyReplies = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true, "si": true, "sí": true,
}

var falsyReplies = map[string]bool{
	"false": true, "no": true, "n": true, "0": true,
}

// parseBooleanReply interprets a model reply as a boolean. Exact vocabulary
// matches win; otherwise a contains heuristic decides, and an ambiguous or
// empty reply fails closed.
func parseBooleanReply(reply string) bool {
	s := strings.ToLower(strings.TrimSpace(reply))
	s = strings.Trim(s, ".!\"'")
	if truthyReplies[s] {
		return true
	}
	if falsyReplies[s] {
		return false
	}
	hasTrue := strings.Contains(s, "true")
	hasFalse := strings.Contains(s, "false")
	return hasTrue && !hasFalse
}

// evalAI asks the external responder a strict boolean question about the
// current message. Any collaborator failure or timeout evaluates to false.
func (e *Evaluator) evalAI(ctx context.Context, prompt, messageText string) bool {
	if e.ai == nil || prompt == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.aiBudget)
	defer cancel()

	fullPrompt := prompt + "\n\n" + booleanInstruction
	reply, err := e.ai.AskBoolean(ctx, fullPrompt, messageText)
	if err != nil {
		e.logger.Warn("ai predicate failed", "error", err)
		return false
	}
	return parseBooleanReply(reply)
}
