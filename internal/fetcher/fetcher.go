package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"

	"structwatch/internal/observability"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 10 * 1024 * 1024
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Snapshot сырая страница цели на момент загрузки
type Snapshot struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// PageFetcher загружает сырую страницу по адресу
type PageFetcher interface {
	Fetch(ctx context.Context, urlStr string) (*Snapshot, error)
}

// FetchError сетевая ошибка, таймаут или статус вне 2xx
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Options struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	MaxBodyBytes   int64
	MaxIdleConns   int
}

func (o *Options) defaults() {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = "ja,en-US;q=0.8,en;q=0.6"
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 10
	}
}

// HTTPFetcher делает ровно один GET на вызов. Повторы остаются на совести
// планировщика следующего запуска
type HTTPFetcher struct {
	client  *http.Client
	opts    Options
	logger  *observability.Logger
	limiter *HostLimiter
	now     func() time.Time
}

func NewHTTPFetcher(opts Options, limiter *HostLimiter, logger *observability.Logger) *HTTPFetcher {
	opts.defaults()
	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        opts.MaxIdleConns,
			MaxIdleConnsPerHost: opts.MaxIdleConns,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPFetcher{
		client:  client,
		opts:    opts,
		logger:  logger,
		limiter: limiter,
		now:     time.Now,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, urlStr string) (*Snapshot, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("invalid URL: %w", err)}
	}
	if parsedURL.Host == "" {
		return nil, &FetchError{URL: urlStr, Err: errors.New("invalid URL: missing host")}
	}

	// Ограничение по хосту
	if f.limiter != nil {
		release, err := f.limiter.Acquire(ctx, parsedURL.Host)
		if err != nil {
			return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("rate limit: %w", err)}
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: err}
	}

	// Заголовки как у обычного браузера
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept-Language", f.opts.AcceptLanguage)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("timeout after %s: %w", f.opts.Timeout, err)}
		}
		return nil, &FetchError{URL: urlStr, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Debug("Failed to close response body", "url", urlStr, "error", err.Error())
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: urlStr, StatusCode: resp.StatusCode}
	}

	// Распаковываем gzip
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("gzip: %w", err)}
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	// Читаем на байт больше лимита, чтобы заметить превышение
	body, err := io.ReadAll(io.LimitReader(reader, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("body exceeds %d bytes", f.opts.MaxBodyBytes)}
	}

	contentType := resp.Header.Get("Content-Type")
	body, err = toUTF8(body, contentType)
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("charset: %w", err)}
	}

	f.logger.Debug("Fetched page",
		"url", urlStr,
		"status", resp.StatusCode,
		"content_type", contentType,
		"content_encoding", resp.Header.Get("Content-Encoding"),
		"bytes", len(body),
	)

	return &Snapshot{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		FetchedAt:   f.now(),
	}, nil
}

// toUTF8 перекодирует body, если заголовок или <meta> объявляют кодировку
// не UTF-8. Без объявления содержимое остаётся как есть и читается как UTF-8
func toUTF8(body []byte, contentType string) ([]byte, error) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || (!certain && name == "windows-1252") {
		return body, nil
	}
	return enc.NewDecoder().Bytes(body)
}
