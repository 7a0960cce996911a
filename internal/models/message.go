package models

// Role identifies the author of a timeline entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one entry of the conversation timeline.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Control markers the presentation layer renders specially instead of as
// prose. Pending must only ever appear as the last timeline entry and is
// replaced when the turn resolves; RegisterInvite is permanent.
const (
	PendingText        = "__pending__"
	RegisterInviteText = "__register_invite__"
)

// ThinkingPhrases replace the pending marker round-robin while a turn is in
// flight. They count as control markers: never spoken, never persisted.
var ThinkingPhrases = []string{
	"Погружаюсь в глубины вашего подсознания...",
	"Листаю древний сонник...",
	"Расшифровываю символы сна...",
	"Советуюсь с луной и звёздами...",
}

// IsSentinel reports whether the message is a control marker rather than
// prose. Sentinels are excluded from playback affordances.
func IsSentinel(m Message) bool {
	if m.Role != RoleBot {
		return false
	}
	if m.Text == PendingText || m.Text == RegisterInviteText {
		return true
	}
	for _, p := range ThinkingPhrases {
		if m.Text == p {
			return true
		}
	}
	return false
}
