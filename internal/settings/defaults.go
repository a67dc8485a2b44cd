package settings

import "time"

// Setting keys. Values are stored JSON-encoded under these names.
const (
	KeyReplyPercent          = "reply_percent"
	KeyPrompt                = "custom_text_prompt"
	KeyChannelsWhitelist     = "channels_whitelist"
	KeyRolesWhitelist        = "roles_whitelist"
	KeyMembersWhitelist      = "members_whitelist"
	KeyIgnoreRegex           = "ignore_regex"
	KeyOptinByDefault        = "optin_by_default"
	KeyReplyToMentions       = "reply_to_mentions_replies"
	KeyBackread              = "messages_backread"
	KeyBackreadSeconds       = "messages_backread_seconds"
	KeyMinLength             = "messages_min_length"
	KeyAlwaysReplyOnWords    = "always_reply_on_words"
	KeyModel                 = "model"
	KeyParameters            = "parameters"
	KeyWeights               = "weights"
	KeyRemovelistRegexes     = "removelist_regexes"
	KeyTokensLimit           = "custom_model_tokens_limit"
	KeyPublicForget          = "public_forget"
	KeyRandomMessagesEnabled = "random_messages_enabled"
	KeyRandomMessagesPercent = "random_messages_percent"
	KeyRandomMessagesTopics  = "random_messages_topics"
	KeyRandomMessagesIdle    = "random_messages_idle_seconds"
	KeyOptIn                 = "optin"
	KeyOptOut                = "optout"
	KeyEndpoint              = "custom_openai_endpoint"
	KeyRequestTimeout        = "openai_endpoint_request_timeout"
	KeyRateLimitReset        = "ratelimit_reset"
	KeyMaxPromptLength       = "max_prompt_length"
	KeyMaxRandomPromptLength = "max_random_prompt_length"
)

// DefaultPrompt is used when no scope sets a custom prompt.
const DefaultPrompt = "You are {botname}. You are in a Discord text channel. " +
	"Respond to anything, including URLs, helpfully in a short message. " +
	"Fulfill your persona and don't speak in third person. " +
	"You are forbidden from saying you're an AI or a bot."

// DefaultRemovePatterns strip common model preambles from responses.
// {botname} and {authorname} are substituted before compiling.
var DefaultRemovePatterns = []string{
	`<think>[\s\S]*?</think>`,
	`^As an AI language model,?`,
	`^(User )?"?{botname}"? (said|says|respond(ed|s)|replie[ds])( to [^":]+)?:?`,
	`^As "?{botname}"?, (I|you)( might| would| could)? (respond|reply|say)( with)?( something like)?:?`,
	`^You respond as "?{botname}"?:`,
	`^[<({\[]{botname}[>)}\]]`,
	`^{botname}:`,
	`^(User )?"?{authorname}"? (said|says|respond(ed|s)|replie[ds])( to [^":]+)?:?`,
	`^As "?{authorname}"?, (I|you)( might| would| could)? (respond|reply|say)( with)?( something like)?:?`,
	`^You respond as "?{authorname}"?:`,
	`^[<({\[]{authorname}[>)}\]]`,
	`^{authorname}:`,
	`\n*\[Image[^\]]+\]`,
}

// Defaults are the values used when no scope overrides a setting. They come
// from the config file and may be swapped at runtime.
type Defaults struct {
	ReplyPercent           float64
	MessagesBackread       int
	BackreadSeconds        int
	MinLength              int
	ReplyToMentionsReplies bool
	OptinByDefault         bool
	Prompt                 string
	Model                  string
	RemovePatterns         []string
	RequestTimeout         time.Duration
	TokensLimit            int
	RandomMessagesPercent  float64
	RandomMessagesIdle     time.Duration
	RandomMessagesTopics   []string
	MaxPromptLength        int
}

// StockDefaults returns the built-in defaults.
func StockDefaults() Defaults {
	return Defaults{
		ReplyPercent:           0.5,
		MessagesBackread:       10,
		BackreadSeconds:        60 * 120,
		MinLength:              2,
		ReplyToMentionsReplies: true,
		OptinByDefault:         false,
		Prompt:                 DefaultPrompt,
		RemovePatterns:         append([]string(nil), DefaultRemovePatterns...),
		RequestTimeout:         60 * time.Second,
		TokensLimit:            8000,
		RandomMessagesPercent:  0.5,
		RandomMessagesIdle:     30 * time.Minute,
		RandomMessagesTopics: []string{
			"Talk about your day",
			"Ask the channel what they are working on",
			"Share an interesting fact",
		},
		MaxPromptLength: 200,
	}
}
