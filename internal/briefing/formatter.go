package briefing

import (
	"fmt"
	"strings"
)

// Message is one formatted display unit produced by Format (spec §4.12).
type Message struct {
	SectionType SectionType
	Text        string
}

var sectionEmoji = map[SectionType]string{
	SectionOpenThreads:     "📋",
	SectionHighImportance:  "⚠️",
	SectionRecentDecisions: "✅",
	SectionUpcoming:        "📅",
}

const defaultEmoji = "📌"

const emptyMessageText = "Good morning! Nothing to report today."

// Format renders a Briefing into display messages per spec §4.12: one
// message per non-empty section, or a single empty-state message when the
// briefing has nothing to report.
func Format(b *Briefing) []Message {
	if b.TotalItems == 0 {
		return []Message{{SectionType: "empty", Text: emptyMessageText}}
	}

	var messages []Message

	for _, section := range b.Sections {
		if len(section.Items) == 0 {
			continue
		}
		messages = append(messages, Message{
			SectionType: section.Type,
			Text:        formatSection(section),
		})
	}

	if len(messages) == 0 {
		return []Message{{SectionType: "empty", Text: emptyMessageText}}
	}
	return messages
}

func formatSection(section Section) string {
	emoji, ok := sectionEmoji[section.Type]
	if !ok {
		emoji = defaultEmoji
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", emoji, section.Title)
	for _, item := range section.Items {
		if item.Source != "" {
			fmt.Fprintf(&b, "• %s (%s)\n", item.Content, item.Source)
		} else {
			fmt.Fprintf(&b, "• %s\n", item.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// IsEmpty reports whether b has nothing to report (testable property 13).
func IsEmpty(b *Briefing) bool {
	if b.TotalItems == 0 {
		return true
	}
	for _, section := range b.Sections {
		if len(section.Items) > 0 {
			return false
		}
	}
	return true
}
