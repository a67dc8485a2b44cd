package convert

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/aibot/internal/chat"
)

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)
)

// FormatText renders a message's text the way it appears in an exchange.
// Bot messages keep their raw text. User messages are prefixed with the
// speaker and, for replies, the name of the replied-to author.
// Empty text yields "".
func FormatText(msg *chat.Message, botID string) string {
	return formatWith(msg, botID, msg.Content)
}

func formatWith(msg *chat.Message, botID, text string) string {
	text = strings.TrimSpace(resolveMentions(msg, text))
	if text == "" {
		return ""
	}
	if msg.Author.ID == botID {
		return text
	}
	if ref := msg.Reference; ref != nil && ref.Author != nil {
		return `User "` + msg.Author.Name() + `" said (in reply to "` + ref.Author.Name() + `"): ` + text
	}
	return `User "` + msg.Author.Name() + `" said: ` + text
}

// resolveMentions rewrites <@id> and <@!id> into @name using the message's
// resolved mention list. Unknown ids are left untouched.
func resolveMentions(msg *chat.Message, text string) string {
	if len(msg.Mentions) == 0 || !strings.Contains(text, "<@") {
		return text
	}
	names := make(map[string]string, len(msg.Mentions))
	for _, u := range msg.Mentions {
		names[u.ID] = u.Name()
	}
	return mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		id := mentionPattern.FindStringSubmatch(m)[1]
		if name, ok := names[id]; ok {
			return "@" + name
		}
		return m
	})
}

// StripLinks removes URLs from text and trims the result.
func StripLinks(text string) string {
	return strings.TrimSpace(urlPattern.ReplaceAllString(text, ""))
}

// ContainsURL reports whether text carries an http(s) link.
func ContainsURL(text string) bool {
	return urlPattern.MatchString(text)
}

func attachmentText(msg *chat.Message) string {
	return `User "` + msg.Author.Name() + `" sent: [Attachment: "` + msg.Attachments[0].Filename + `"]`
}

func stickerText(msg *chat.Message) string {
	names := make([]string, 0, len(msg.Stickers))
	for _, s := range msg.Stickers {
		names = append(names, s.Name)
	}
	return `User "` + msg.Author.Name() + `" sent: [Sticker: "` + strings.Join(names, `", "`) + `"]`
}
