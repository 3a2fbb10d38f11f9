package fingerprint

import (
	"mime"
	"strings"

	"structwatch/internal/fetcher"
)

// DefaultMaxMatches ограничивает число элементов на селектор, попадающих
// в хеш. Растущие списки не должны менять отпечаток
const DefaultMaxMatches = 5

// Extraction подробный результат свёртки снимка
type Extraction struct {
	Fingerprint Fingerprint
	// Text склеенный буфер, от которого считался хеш
	Text string
	// Matches число взятых элементов по каждому селектору, в порядке селекторов
	Matches []int
}

// TotalMatches сумма Matches
func (e *Extraction) TotalMatches() int {
	total := 0
	for _, n := range e.Matches {
		total += n
	}
	return total
}

// Extractor сводит снимок страницы к отпечатку по упорядоченным селекторам
type Extractor struct {
	generator  *Generator
	parse      ParseFunc
	maxMatches int
}

func NewExtractor(generator *Generator, parse ParseFunc, maxMatches int) *Extractor {
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatches
	}
	return &Extractor{
		generator:  generator,
		parse:      parse,
		maxMatches: maxMatches,
	}
}

// Generator возвращает генератор, которым считаются отпечатки.
func (e *Extractor) Generator() *Generator {
	return e.generator
}

// Extract возвращает отпечаток снимка по упорядоченным селекторам
func (e *Extractor) Extract(snap *fetcher.Snapshot, selectors []string) (Fingerprint, error) {
	res, err := e.ExtractDetailed(snap, selectors)
	if err != nil {
		return "", err
	}
	return res.Fingerprint, nil
}

// ExtractDetailed то же, что Extract, плюс хешируемый буфер и число совпадений
// по селекторам. Отсутствие совпадений не ошибка: возвращается хеш пустого буфера,
// в том числе для пустого тела страницы
func (e *Extractor) ExtractDetailed(snap *fetcher.Snapshot, selectors []string) (*Extraction, error) {
	if len(selectors) == 0 {
		return nil, &ExtractionError{URL: snap.URL, Reason: "no selectors configured"}
	}
	if !isMarkup(snap.ContentType) {
		return nil, &ExtractionError{URL: snap.URL, Reason: "unsupported content type " + snap.ContentType}
	}

	doc, err := e.parse(snap.Body)
	if err != nil {
		return nil, &ExtractionError{URL: snap.URL, Reason: "unparseable document", Err: err}
	}

	// Тексты склеиваются без разделителя
	var buf strings.Builder
	matches := make([]int, 0, len(selectors))
	for _, selector := range selectors {
		texts, err := doc.Texts(selector, e.maxMatches)
		if err != nil {
			return nil, &ExtractionError{URL: snap.URL, Reason: "selector query failed", Err: err}
		}
		for _, text := range texts {
			buf.WriteString(text)
		}
		matches = append(matches, len(texts))
	}

	text := buf.String()
	return &Extraction{
		Fingerprint: e.generator.GenerateFingerprint(text),
		Text:        text,
		Matches:     matches,
	}, nil
}

// isMarkup пропускает пустой Content-Type и любые HTML/XML типы
func isMarkup(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(contentType)
	}
	return strings.Contains(mediaType, "html") || strings.Contains(mediaType, "xml")
}
