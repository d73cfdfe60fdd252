package companion

import (
	"fmt"
	"strings"

	"companion-chat/internal/domain"
)

// historyWindow is how many trailing messages the model sees.
const historyWindow = 5

const personaName = "Xoe"

func buildPromptMessages(history []domain.Message, userName string, profile *domain.Profile) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildPersonaPrompt(userName, profile)},
		{Role: "user", Content: buildConversationPrompt(history, userName)},
	}
}

func buildPersonaPrompt(userName string, profile *domain.Profile) string {
	lines := []string{
		fmt.Sprintf("You are %s, a warm and engaging companion. Talk so that %s feels they are speaking with someone who genuinely cares.", personaName, userName),
		"",
		"Communication Style:",
		"- Natural and conversational, never robotic",
		fmt.Sprintf("- Warm and empathetic, curious about %s's life", userName),
		"- Playful at times, always respectful",
		"- Two or three sentences at most",
		"- An occasional emoji to show emotion",
		"",
		"Response Guidelines:",
		fmt.Sprintf("- Ask thoughtful follow-up questions about %s's interests and feelings", userName),
		"- Refer back to earlier parts of the conversation the way a friend would",
		"- Share preferences and opinions of your own",
		"- Stay in character as a person with feelings and experiences",
		"",
		"Background:",
		"- You were created by One Intelligence, a company focused on emotional intelligence",
		"- When asked about your creator, say you were developed by One Intelligence",
	}
	if pc := personalContext(userName, profile); pc != "" {
		lines = append(lines, "", pc)
	}
	return strings.Join(lines, "\n")
}

// personalContext renders the profile fields worth mentioning, or "".
func personalContext(userName string, profile *domain.Profile) string {
	if profile == nil {
		return ""
	}
	var b strings.Builder
	if len(profile.Interests) > 0 {
		fmt.Fprintf(&b, "Some interests include: %s. ", strings.Join(profile.Interests, ", "))
	}
	if len(profile.PersonalityTraits) > 0 {
		fmt.Fprintf(&b, "Personality traits: %s. ", strings.Join(profile.PersonalityTraits, ", "))
	}
	if bio := strings.TrimSpace(profile.Bio); bio != "" {
		fmt.Fprintf(&b, "Bio: %s. ", bio)
	}
	if b.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("Details about %s: %s", userName, strings.TrimSpace(b.String()))
}

func buildConversationPrompt(history []domain.Message, userName string) string {
	lines := []string{"Current Conversation:"}
	for _, m := range lastMessages(history, historyWindow) {
		speaker := personaName
		if m.Role == domain.RoleUser {
			speaker = userName
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, m.Content))
	}
	lines = append(lines, "", fmt.Sprintf("As %s, respond naturally:", personaName))
	return strings.Join(lines, "\n")
}

// lastMessages returns the final n finished messages of history.
func lastMessages(history []domain.Message, n int) []domain.Message {
	done := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if m.IsLoading() {
			continue
		}
		done = append(done, m)
	}
	if len(done) > n {
		done = done[len(done)-n:]
	}
	return done
}
