package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/aluiziolira/go-watch-listings/models"
)

const (
	itemSeparator   = "\n----------\n"
	continuedHeader = "(continued)"
)

// NewItemsMessages renders items as one or more messages no longer than limit characters.
// Items are never split across messages unless a single item exceeds the limit on its own.
func NewItemsMessages(topic string, items []models.Item, limit int) []string {
	if len(items) == 0 {
		return nil
	}
	header := fmt.Sprintf("%d new items for %s:", len(items), topic)
	blocks := make([]string, 0, len(items))
	for _, item := range items {
		blocks = append(blocks, formatItem(item))
	}
	return chunk(header, blocks, limit)
}

// NoNewItemsMessage is sent when the page had items but none were new.
func NoNewItemsMessage(topic string) string {
	return fmt.Sprintf("No new items for %s.", topic)
}

// NoItemsMessage is sent when nothing could be extracted from the page.
func NoItemsMessage(topic string) string {
	return fmt.Sprintf("No items found on the page for %s. The layout may have changed or the request was blocked.", topic)
}

// FailureMessage reports a failed topic run.
func FailureMessage(topic string, err error) string {
	return fmt.Sprintf("Scan failed for %s.\nError: %v", topic, err)
}

func formatItem(item models.Item) string {
	var b strings.Builder
	b.WriteString(item.Title)
	if item.Price != "" {
		b.WriteString("\nPrice: ")
		b.WriteString(item.Price)
	}
	if item.Link != "" {
		b.WriteString("\n")
		b.WriteString(item.Link)
	}
	return b.String()
}

func chunk(header string, blocks []string, limit int) []string {
	var (
		messages []string
		current  strings.Builder
		size     int
		count    int
	)
	start := func(head string) {
		current.Reset()
		current.WriteString(head)
		size = textLength(head)
		count = 0
	}
	separator := func() string {
		if count == 0 {
			return "\n\n"
		}
		return itemSeparator
	}

	start(header)
	for _, block := range blocks {
		sep := separator()
		if count > 0 && size+textLength(sep+block) > limit {
			messages = append(messages, current.String())
			start(continuedHeader)
			sep = separator()
		}
		if size+textLength(sep+block) > limit {
			block = truncate(block, limit-size-textLength(sep))
		}
		current.WriteString(sep)
		current.WriteString(block)
		size += textLength(sep + block)
		count++
	}
	return append(messages, current.String())
}

// textLength counts UTF-16 code units, the unit the Bot API applies its length limit in.
func textLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// truncate shortens s to at most max UTF-16 code units without splitting a character.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if textLength(s) <= max {
		return s
	}
	suffix := "..."
	if max <= len(suffix) {
		suffix = ""
	}
	budget := max - len(suffix)
	var b strings.Builder
	used := 0
	for _, r := range s {
		w := utf16.RuneLen(r)
		if used+w > budget {
			break
		}
		b.WriteRune(r)
		used += w
	}
	return b.String() + suffix
}
