package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"structwatch/internal/observability"
)

type RodOptions struct {
	// ChromePath путь к локальному браузеру, пусто - rod найдёт сам
	ChromePath string
	// RemoteURL подключение к уже запущенному браузеру (DevTools websocket) вместо запуска
	RemoteURL   string
	PageTimeout time.Duration
	UserAgent   string
}

// RodFetcher рендерит страницы в headless Chrome для целей, у которых
// структура появляется только после скриптов. Браузер стартует при первом вызове
type RodFetcher struct {
	opts    RodOptions
	limiter *HostLimiter
	logger  *observability.Logger
	now     func() time.Time

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func NewRodFetcher(opts RodOptions, limiter *HostLimiter, logger *observability.Logger) *RodFetcher {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	return &RodFetcher{
		opts:    opts,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

func (r *RodFetcher) Fetch(ctx context.Context, urlStr string) (*Snapshot, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Host == "" {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("invalid URL: %q", urlStr)}
	}

	if r.limiter != nil {
		release, err := r.limiter.Acquire(ctx, parsedURL.Host)
		if err != nil {
			return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("rate limit: %w", err)}
		}
		defer release()
	}

	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: err}
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("browser: create tab: %w", err)}
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.logger.Debug("browser: close tab", "url", urlStr, "error", err.Error())
		}
	}()

	if r.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.opts.UserAgent}); err != nil {
			r.logger.Warn("browser: set user agent failed", "error", err.Error())
		}
	}

	// Навигация с таймаутом на страницу
	navCtx, cancel := context.WithTimeout(ctx, r.opts.PageTimeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(urlStr); err != nil {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("browser: navigate: %w", err)}
	}
	if err := p.WaitLoad(); err != nil {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("browser: wait load: %w", err)}
	}

	html, err := p.HTML()
	if err != nil {
		return nil, &FetchError{URL: urlStr, Err: fmt.Errorf("browser: get DOM: %w", err)}
	}

	// URL после редиректов
	info, err := p.Info()
	finalURL := urlStr
	if err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &Snapshot{
		URL:         finalURL,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(html),
		FetchedAt:   r.now(),
	}, nil
}

func (r *RodFetcher) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	// Без RemoteURL запускаем локальный Chrome
	controlURL := r.opts.RemoteURL
	if controlURL == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		if r.opts.ChromePath != "" {
			l = l.Bin(r.opts.ChromePath)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
		r.launcher = l
		r.logger.Info("browser: launched local chrome", "url", controlURL)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if r.launcher != nil {
			r.launcher.Kill()
			r.launcher = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	r.browser = b
	return b, nil
}

// Close закрывает браузер, запущенный этим загрузчиком. Удалённый браузер
// продолжает работать
func (r *RodFetcher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.launcher != nil {
		if r.browser != nil {
			err = r.browser.Close()
		}
		r.launcher.Cleanup()
		r.launcher = nil
	}
	r.browser = nil
	return err
}
