package bot

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/aibot/internal/cache"
)

// SanitizeResponse cleans a model reply before it is sent:
//
//  1. thinking/reasoning blocks (<think>, <thinking>, <thought>) are removed
//  2. each removelist pattern, with {botname} and {authorname} substituted,
//     is deleted; patterns are applied in order and the text is trimmed
//     between them so anchored patterns can chain
//  3. consecutive duplicate paragraphs are collapsed
//  4. runs of blank lines are squeezed
//
// An empty result means nothing should be sent.
func SanitizeResponse(content string, patterns []string, botName, authorName string) string {
	if content == "" {
		return ""
	}
	original := content

	content = stripThinkingTags(content)
	content = strings.TrimSpace(content)

	for _, p := range patterns {
		re := compileRemovePattern(p, botName, authorName)
		if re == nil {
			continue
		}
		content = strings.TrimSpace(re.ReplaceAllString(content, ""))
	}

	content = collapseConsecutiveDuplicateBlocks(content)
	content = blankLinesPattern.ReplaceAllString(content, "\n\n")
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized response", "original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return content
}

var blankLinesPattern = regexp.MustCompile(`\n{3,}`)

// removeCache holds compiled removelist patterns keyed by the substituted
// source; invalid sources map to nil.
var removeCache = cache.New[string, *regexp.Regexp](512)

func compileRemovePattern(pattern, botName, authorName string) *regexp.Regexp {
	src := strings.NewReplacer(
		"{botname}", regexp.QuoteMeta(botName),
		"{authorname}", regexp.QuoteMeta(authorName),
	).Replace(pattern)

	if re, ok := removeCache.Get(src); ok {
		return re
	}
	re, err := regexp.Compile(src)
	if err != nil {
		slog.Warn("invalid removelist pattern, skipping", "pattern", pattern, "error", err)
		removeCache.Put(src, nil)
		return nil
	}
	removeCache.Put(src, re)
	return re
}

// collapseConsecutiveDuplicateBlocks drops a paragraph that repeats the one
// right before it, which some local models do when they loop.
func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}

	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}
