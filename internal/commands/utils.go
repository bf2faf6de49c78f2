package commands

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

var mentionPattern = regexp.MustCompile(`<@!?([0-9]+)>`)

func getUserID(data discordgo.ApplicationCommandInteractionData, sub *discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range sub.Options {
		if o.Name != name {
			continue
		}
		// Prefer raw ID from option value
		if id, ok := o.Value.(string); ok && id != "" {
			return id
		}
		if data.Resolved != nil {
			for id := range data.Resolved.Users {
				return id
			}
		}
	}
	return ""
}

func getNumberOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *float64 {
	for _, o := range opts {
		if o.Name == name {
			v := o.FloatValue()
			return &v
		}
	}
	return nil
}

func getStringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *string {
	for _, o := range opts {
		if o.Name == name {
			v := o.StringValue()
			return &v
		}
	}
	return nil
}

// parseMentionIDs supports <@123>, <@!123>, and raw IDs separated by spaces.
func parseMentionIDs(text string) []string {
	var ids []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if len(m) >= 2 {
			ids = append(ids, m[1])
		}
	}
	for _, tok := range strings.Fields(text) {
		if allDigits(tok) {
			ids = append(ids, tok)
		}
	}
	return unique(ids)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
