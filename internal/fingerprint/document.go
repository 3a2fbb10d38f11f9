package fingerprint

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"structwatch/internal/normalize"
)

// Document ищет структурные элементы в разобранной странице.
// Экстрактору от HTML-библиотеки больше ничего не нужно
type Document interface {
	// Texts возвращает видимый текст не более limit элементов,
	// подходящих под selector, в порядке документа
	Texts(selector string, limit int) ([]string, error)
}

// ParseFunc превращает сырую страницу в Document
type ParseFunc func(body []byte) (Document, error)

type htmlDocument struct {
	doc        *goquery.Document
	normalizer *normalize.Normalizer
}

// HTMLParser возвращает ParseFunc на основе goquery
func HTMLParser(n *normalize.Normalizer) ParseFunc {
	return func(body []byte) (Document, error) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML: %w", err)
		}
		return &htmlDocument{doc: doc, normalizer: n}, nil
	}
}

func (d *htmlDocument) Texts(selector string, limit int) ([]string, error) {
	matcher, err := CompileSelector(selector)
	if err != nil {
		return nil, err
	}

	// Берём только первые limit совпадений
	matches := d.doc.FindMatcher(matcher)
	n := matches.Length()
	if limit > 0 && n > limit {
		n = limit
	}

	texts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		texts = append(texts, d.normalizer.VisibleText(matches.Eq(i)))
	}
	return texts, nil
}

// CompileSelector проверяет CSS селектор (группы через запятую допустимы)
func CompileSelector(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return sel, nil
}

// ParseHTML разбирает body нормализатором по умолчанию (только обрезка пробелов)
func ParseHTML(body []byte) (Document, error) {
	return HTMLParser(normalize.NewNormalizer(normalize.Options{}))(body)
}
