package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Элементы, текст которых не отображается на странице
var invisibleElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

var spaceRun = regexp.MustCompile(`\s+`)

// Options правила очистки пробелов
type Options struct {
	TrimNBSP       bool
	CollapseSpaces bool
}

// Normalizer извлекает и очищает видимый текст элементов
type Normalizer struct {
	opts Options
}

func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// VisibleText собирает видимый текст выделения: каждый текстовый узел
// очищается и обрезается по краям, затем куски склеиваются без разделителя.
// Пустые после обрезки узлы пропускаются. Документ не изменяется.
func (n *Normalizer) VisibleText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, node := range sel.Nodes {
		n.appendText(&b, node)
	}
	return b.String()
}

func (n *Normalizer) appendText(b *strings.Builder, node *html.Node) {
	switch node.Type {
	case html.TextNode:
		b.WriteString(n.CleanText(node.Data))
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if invisibleElements[node.Data] {
			return
		}
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		n.appendText(b, child)
	}
}

// CleanText применяет правила пробелов и обрезает края
func (n *Normalizer) CleanText(text string) string {
	// NBSP -> обычный пробел
	if n.opts.TrimNBSP {
		text = strings.ReplaceAll(text, "\u00A0", " ")
	}

	if n.opts.CollapseSpaces {
		text = spaceRun.ReplaceAllString(text, " ")
	}

	return strings.TrimSpace(text)
}

// TruncatePreview обрезает текст до maxChars рун, по возможности по границе слова
func TruncatePreview(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	runes := []rune(text)
	truncated := string(runes[:maxChars-1])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		return truncated[:lastSpace] + "…"
	}

	return truncated + "…"
}

// NormalizeURL убирает пробелы и фрагмент (#...)
func NormalizeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if idx := strings.Index(urlStr, "#"); idx > -1 {
		urlStr = urlStr[:idx]
	}
	return urlStr
}
