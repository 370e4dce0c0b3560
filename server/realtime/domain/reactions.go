package domain

import (
	"sort"
	"strings"
)

// ReactionTag builds the stored token for one user's reaction.
func ReactionTag(emoji, userID string) string {
	return emoji + ":" + userID
}

// SplitReactionTag splits on the last colon so emoji containing ':' survive.
func SplitReactionTag(tag string) (emoji, userID string, ok bool) {
	idx := strings.LastIndex(tag, ":")
	if idx <= 0 || idx == len(tag)-1 {
		return "", "", false
	}
	return tag[:idx], tag[idx+1:], true
}

// NormalizeReactions drops malformed and repeated tags, keeping first-seen order.
func NormalizeReactions(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if _, _, ok := SplitReactionTag(tag); !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// ToggleReaction adds tag when absent and removes it when present.
func ToggleReaction(tags []string, tag string) ([]string, bool) {
	tags = NormalizeReactions(tags)
	for i, existing := range tags {
		if existing == tag {
			return append(tags[:i:i], tags[i+1:]...), false
		}
	}
	return append(tags, tag), true
}

type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"userIds"`
	Mine    bool     `json:"mine"`
}

// GroupReactions counts distinct users per emoji in first-seen emoji order.
func GroupReactions(tags []string, viewerID string) []ReactionGroup {
	groups := []ReactionGroup{}
	index := map[string]int{}
	for _, tag := range NormalizeReactions(tags) {
		emoji, userID, _ := SplitReactionTag(tag)
		i, ok := index[emoji]
		if !ok {
			i = len(groups)
			index[emoji] = i
			groups = append(groups, ReactionGroup{Emoji: emoji})
		}
		groups[i].Count++
		groups[i].UserIDs = append(groups[i].UserIDs, userID)
		if userID == viewerID {
			groups[i].Mine = true
		}
	}
	for i := range groups {
		sort.Strings(groups[i].UserIDs)
	}
	return groups
}
