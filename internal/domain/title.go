package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxQuestionLength = 5000
	MaxTitleLength    = 100
	TitleWordCount    = 8
)

// DeriveTitle arma un título con las primeras TitleWordCount palabras del texto,
// separadas por un único espacio y truncado a MaxTitleLength runas.
func DeriveTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > TitleWordCount {
		words = words[:TitleWordCount]
	}
	title := strings.Join(words, " ")
	if utf8.RuneCountInString(title) > MaxTitleLength {
		title = string([]rune(title)[:MaxTitleLength])
	}
	return title
}
