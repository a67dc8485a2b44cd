package history

import "github.com/nextlevelbuilder/aibot/internal/providers"

// EstimateTokens approximates the token cost of an entry as chars/4,
// never less than one.
func EstimateTokens(m providers.Message) int {
	n := len([]rune(m.Text())) / 4
	for _, p := range m.Parts {
		if p.Type == providers.PartImageURL {
			n += 85
		}
	}
	return max(n, 1)
}

// ApplyBudget prefixes body with system and trims it to maxTokens: the
// oldest body entries go first, then the last remaining entry is truncated.
// The system entry is always kept. maxTokens <= 0 disables the budget.
func ApplyBudget(system providers.Message, body []providers.Message, maxTokens int) []providers.Message {
	if maxTokens > 0 {
		total := EstimateTokens(system)
		for _, m := range body {
			total += EstimateTokens(m)
		}
		for total > maxTokens && len(body) > 1 {
			total -= EstimateTokens(body[0])
			body = body[1:]
		}
		if total > maxTokens && len(body) == 1 && len(body[0].Parts) == 0 {
			room := max(maxTokens-EstimateTokens(system), 1) * 4
			if r := []rune(body[0].Content); len(r) > room {
				body = []providers.Message{{Role: body[0].Role, Content: string(r[:room])}}
			}
		}
	}

	out := make([]providers.Message, 0, len(body)+1)
	out = append(out, system)
	return append(out, body...)
}
