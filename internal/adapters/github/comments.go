package github

import (
	"fmt"
	"strings"
)

// CommandKind names a reviewer instruction.
type CommandKind string

const (
	// CommandApprove queues the PR for merging ("r+", optionally
	// followed by the reviewed commit).
	CommandApprove CommandKind = "approve"
	// CommandCancel withdraws the PR from the queue ("r-" or "cancel").
	CommandCancel CommandKind = "cancel"
)

// Command is a parsed reviewer instruction from a PR comment.
type Command struct {
	Kind   CommandKind
	Commit string // explicit reviewed sha, approve only
}

// ParseCommand scans a comment body for a command addressed to the bot.
// The first recognized token after the mention wins; a mention with no
// recognized command returns nil.
func ParseCommand(body, botUser string) *Command {
	mention := "@" + botUser
	fields := strings.Fields(body)
	for i, field := range fields {
		if strings.TrimRight(field, ":,") != mention {
			continue
		}
		rest := fields[i+1:]
		if len(rest) == 0 {
			return nil
		}
		switch rest[0] {
		case "r+":
			cmd := &Command{Kind: CommandApprove}
			if len(rest) > 1 && isCommitToken(rest[1]) {
				cmd.Commit = rest[1]
			}
			return cmd
		case "r-", "cancel":
			return &Command{Kind: CommandCancel}
		}
	}
	return nil
}

// isCommitToken reports whether a token looks like an abbreviated or
// full git object id.
func isCommitToken(s string) bool {
	if len(s) < 4 || len(s) > 40 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// MergeMessage builds the commit message recorded for an approved merge.
// The ruled-off trailer credits the author and the approving reviewer.
func MergeMessage(title string, pr Pr, author, reviewer, body string) string {
	return fmt.Sprintf("%s\n\nMerge #%d a=@%s r=@%s\n%s\n\n%s",
		title, int(pr), author, reviewer, strings.Repeat("_", 72), body)
}
