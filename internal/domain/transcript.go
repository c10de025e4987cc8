package domain

// Role tags a transcript entry with its author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one normalized transcript line.
type Entry struct {
	Role Role
	Text string
}

// Transcript is a bounded, filtered conversation history, oldest-first as
// returned by the platform. Empty-content entries are never present.
type Transcript []Entry
