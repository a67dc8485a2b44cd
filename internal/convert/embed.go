package convert

import (
	"context"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/aibot/internal/chat"
)

var (
	videoLinkPattern = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com|youtu\.be)/(?:watch\?v=)?(.+)`)
	videoIDPattern   = regexp.MustCompile(`(?:youtube(?:-nocookie)?\.com|youtu\.be).*(?:v=|/)([\w-]{11})`)
)

// minEmbedChars is the combined title+description length below which a
// preview is considered not yet rendered.
const minEmbedChars = 10

// IsEmbedValid reports whether the first embed of msg carries a title and
// description with a combined length of at least 10 characters.
func IsEmbedValid(msg *chat.Message) bool {
	if msg == nil || len(msg.Embeds) == 0 {
		return false
	}
	e := msg.Embeds[0]
	if e.Title == "" || e.Description == "" {
		return false
	}
	return len([]rune(e.Title))+len([]rune(e.Description)) >= minEmbedChars
}

// ContainsVideoLink reports whether text links to a recognized video host.
func ContainsVideoLink(text string) bool {
	return videoLinkPattern.MatchString(text)
}

// VideoID extracts the 11-character video id from the first video link in
// text, or "".
func VideoID(text string) string {
	m := videoIDPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// EmbedRenderer turns a message's preview (or bare video link) into a text
// description. Implementations may call out to the network; errors degrade
// to plain-text conversion.
type EmbedRenderer interface {
	Render(ctx context.Context, msg *chat.Message) (string, error)
}

// DefaultRenderer renders from the embed data already attached to the
// message without any network access.
type DefaultRenderer struct{}

func (DefaultRenderer) Render(_ context.Context, msg *chat.Message) (string, error) {
	who := msg.Author.Name()
	if IsEmbedValid(msg) {
		e := msg.Embeds[0]
		var b strings.Builder
		b.WriteString(`User "` + who + `" sent: [Link preview`)
		if e.Provider != "" {
			b.WriteString(" from " + e.Provider)
		}
		b.WriteString("]\n")
		b.WriteString("Title: " + e.Title + "\n")
		if e.AuthorName != "" {
			b.WriteString("Author: " + e.AuthorName + "\n")
		}
		b.WriteString("Description: " + e.Description)
		for _, f := range e.Fields {
			if f.Name == "" && f.Value == "" {
				continue
			}
			b.WriteString("\n" + f.Name + ": " + f.Value)
		}
		if e.Footer != "" {
			b.WriteString("\n" + e.Footer)
		}
		return b.String(), nil
	}
	if id := VideoID(msg.Content); id != "" {
		return `User "` + who + `" sent: [Video: "` + id + `"]`, nil
	}
	return "", nil
}
