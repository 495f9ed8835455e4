package conversation

import "github.com/meikuraledutech/chatrelay"

// assemble builds the outbound list: exactly one system message followed by
// the windowed history as bare (role, content) pairs.
func assemble(systemPrompt string, turns []chatrelay.Turn, limit int) []chatrelay.Message {
	turns = window(turns, limit)

	messages := make([]chatrelay.Message, 0, len(turns)+1)
	messages = append(messages, chatrelay.Message{Role: chatrelay.RoleSystem, Content: systemPrompt})
	for _, t := range turns {
		messages = append(messages, chatrelay.Message{Role: t.Role, Content: t.Content})
	}
	return messages
}

// window keeps at most limit trailing turns and drops leading non-user turns
// so the provider always sees a user turn first. limit <= 0 keeps everything.
func window(turns []chatrelay.Turn, limit int) []chatrelay.Turn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}

	w := turns[len(turns)-limit:]
	for len(w) > 1 && w[0].Role != chatrelay.RoleUser {
		w = w[1:]
	}
	return w
}
