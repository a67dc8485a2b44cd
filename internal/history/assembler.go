// Package history assembles the bounded conversation context sent to the
// completion backend for a triggering message.
package history

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/cache"
	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/providers"
)

// pageSize caps a single History request.
const pageSize = 100

// DefaultCacheSize is the converted-message cache capacity used when the
// config sets none.
const DefaultCacheSize = 1000

// CachedMessage is the converted form of one chat message. It stores the
// author id only, never a live author object.
type CachedMessage struct {
	AuthorID  string
	ChannelID string
	CreatedAt time.Time
	Entries   []providers.Message
}

// Cache is the converted-message cache shared by all pipelines.
type Cache = cache.LRU[string, CachedMessage]

// NewCache creates a converted-message cache.
func NewCache(capacity int) *Cache {
	return cache.New[string, CachedMessage](capacity)
}

// Source pages backward through a channel.
type Source interface {
	// History returns up to limit messages older than beforeID, newest first.
	History(ctx context.Context, channelID, beforeID string, limit int) ([]*chat.Message, error)
}

// Converter turns one message into exchange entries.
type Converter interface {
	Convert(ctx context.Context, msg *chat.Message) []providers.Message
}

// Options bound and decorate one assembly.
type Options struct {
	Backread    int           // max messages visited, trigger included
	BackreadGap time.Duration // max gap between consecutive messages; 0 = unbounded
	Since       time.Time     // forget cut-off; zero = none
	MinLength   int

	OptedOut func(userID string) bool // author ends the walk
	Consents func(userID string) bool // author may be used as context

	Prompt      string // system template
	ExtraSystem string
	BotName     string
	ServerName  string
	ChannelName string
	Now         time.Time

	MaxTokens int // 0 = unbounded
}

// Assembler builds exchanges for one bot identity.
type Assembler struct {
	BotID     string
	Source    Source
	Converter Converter
	Cache     *Cache
}

// Build walks backward from trigger and returns the system preamble followed
// by the collected entries, oldest first. A fetch failure or cancellation
// mid-walk ends the walk; whatever was collected is still returned.
func (a *Assembler) Build(ctx context.Context, trigger *chat.Message, opts Options) ([]providers.Message, error) {
	if trigger == nil {
		return nil, errors.New("build history: nil trigger")
	}
	limit := opts.Backread
	if limit < 1 {
		limit = 1
	}

	// groups are collected newest first and reversed at the end
	var groups [][]providers.Message
	visited := 0
	prev := trigger

	visit := func(m *chat.Message) bool {
		visited++
		if m.Author.ID != a.BotID && opts.OptedOut != nil && opts.OptedOut(m.Author.ID) {
			return false
		}
		if entries := a.entries(ctx, m, opts); len(entries) > 0 {
			groups = append(groups, entries)
		}
		return true
	}

	if !visit(trigger) {
		return a.finish(groups, trigger, opts), nil
	}

walk:
	for visited < limit {
		if err := ctx.Err(); err != nil {
			slog.Debug("history walk cancelled", "channel_id", trigger.ChannelID, "error", err)
			break
		}
		page, err := a.Source.History(ctx, trigger.ChannelID, prev.ID, min(limit-visited, pageSize))
		if err != nil {
			slog.Debug("history fetch failed, using partial context", "channel_id", trigger.ChannelID, "error", err)
			break
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			if m == nil {
				continue
			}
			if !opts.Since.IsZero() && m.CreatedAt.Before(opts.Since) {
				break walk
			}
			if opts.BackreadGap > 0 && prev.CreatedAt.Sub(m.CreatedAt) > opts.BackreadGap {
				break walk
			}
			if !visit(m) {
				break walk
			}
			prev = m
			if visited >= limit {
				break walk
			}
		}
	}

	return a.finish(groups, trigger, opts), nil
}

// entries returns the converted entries for m, from cache when possible.
func (a *Assembler) entries(ctx context.Context, m *chat.Message, opts Options) []providers.Message {
	if m.Author.ID != a.BotID {
		if opts.Consents != nil && !opts.Consents(m.Author.ID) {
			return nil
		}
		if !m.HasMedia() && len([]rune(m.TrimmedContent())) < max(opts.MinLength, 1) {
			return nil
		}
	} else if m.TrimmedContent() == "" && !m.HasMedia() && len(m.Embeds) == 0 {
		return nil
	}

	// messages without a platform id (slash command text) are never cached
	cacheable := a.Cache != nil && m.ID != ""
	if cacheable {
		if cm, ok := a.Cache.Get(m.ID); ok {
			return cm.Entries
		}
	}
	entries := a.Converter.Convert(ctx, m)
	if len(entries) > 0 && cacheable {
		a.Cache.Put(m.ID, CachedMessage{
			AuthorID:  m.Author.ID,
			ChannelID: m.ChannelID,
			CreatedAt: m.CreatedAt,
			Entries:   entries,
		})
	}
	return entries
}

func (a *Assembler) finish(groups [][]providers.Message, trigger *chat.Message, opts Options) []providers.Message {
	var body []providers.Message
	for i := len(groups) - 1; i >= 0; i-- {
		body = append(body, groups[i]...)
	}
	system := providers.Message{Role: providers.RoleSystem, Content: SystemPrompt(trigger, opts)}
	return ApplyBudget(system, body, opts.MaxTokens)
}

// SystemPrompt renders the prompt template for trigger.
func SystemPrompt(trigger *chat.Message, opts Options) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	r := strings.NewReplacer(
		"{botname}", opts.BotName,
		"{authorname}", trigger.Author.Name(),
		"{servername}", opts.ServerName,
		"{channelname}", opts.ChannelName,
		"{currentdate}", now.Format("2006-01-02"),
	)
	out := r.Replace(opts.Prompt)
	if extra := strings.TrimSpace(opts.ExtraSystem); extra != "" {
		if out != "" {
			out += "\n\n"
		}
		out += r.Replace(extra)
	}
	if out == "" {
		out = "You are " + opts.BotName + "."
	}
	return out
}
