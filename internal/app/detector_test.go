package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"structwatch/internal/config"
	"structwatch/internal/fetcher"
	"structwatch/internal/fingerprint"
	"structwatch/internal/normalize"
	"structwatch/internal/observability"
	"structwatch/internal/report"
	"structwatch/internal/storage"
)

var (
	rankingSelectors = []string{"a.ranking-item", "span.price", "span.review-count", "span.rating"}
	searchSelectors  = []string{"a.item-name", "span.item-price", "span.item-review"}
)

func rankingPage() string {
	return `<html><body>
<a class="ranking-item" href="/1">Green tea 100g</a><span class="price">1,200円</span>
<span class="review-count">(321)</span><span class="rating">4.5</span>
</body></html>`
}

func searchPage(price string) string {
	return fmt.Sprintf(`<html><body>
<a class="item-name" href="/i/1">Matcha set</a><span class="item-price">%s</span><span class="item-review">(12)</span>
</body></html>`, price)
}

// site отдаёт изменяемые страницы по пути
type site struct {
	mu    sync.Mutex
	pages map[string]string
	down  map[string]bool
}

func newSite(t *testing.T) (*site, *httptest.Server) {
	s := &site{pages: map[string]string{}, down: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		body, ok := s.pages[r.URL.Path]
		down := s.down[r.URL.Path]
		s.mu.Unlock()

		if !ok || down {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *site) set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = body
}

func (s *site) setDown(path string, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down[path] = down
}

type harness struct {
	stateDir string
	targets  []config.Target
	logger   *observability.Logger
	logs     *observer.ObservedLogs
	metrics  *observability.Metrics
	runs     int
}

func newHarness(t *testing.T, srv *httptest.Server) *harness {
	core, logs := observer.New(zapcore.DebugLevel)
	return &harness{
		stateDir: filepath.Join(t.TempDir(), "api-monitoring"),
		targets: []config.Target{
			{ID: "ranking", URL: srv.URL + "/ranking", Selectors: rankingSelectors},
			{ID: "search", URL: srv.URL + "/search", Selectors: searchSelectors},
		},
		logger:  observability.NewWithCore(core),
		logs:    logs,
		metrics: observability.NewMetrics(),
	}
}

func (h *harness) detector(t *testing.T, baseline storage.BaselineStore, workers int) *Detector {
	t.Helper()
	gen, err := fingerprint.NewGenerator(fingerprint.AlgorithmSHA256)
	require.NoError(t, err)

	httpFetcher := fetcher.NewHTTPFetcher(fetcher.Options{Timeout: 2 * time.Second}, fetcher.NewHostLimiter(4, 0), h.logger)
	extractor := fingerprint.NewExtractor(gen, fingerprint.HTMLParser(normalize.NewNormalizer(normalize.Options{})), fingerprint.DefaultMaxMatches)

	h.runs++
	runID := fmt.Sprintf("run-%d", h.runs)
	return NewDetector(h.targets, fetcher.NewRouter(httpFetcher, nil), extractor, baseline, h.logger, h.metrics, Options{
		Workers: workers,
		NewID:   func() string { return runID },
	})
}

func (h *harness) paths() storage.Paths {
	return storage.PathsFor(h.stateDir)
}

// run выполняет полный проход как CLI: обнаружение, затем отчёт
func (h *harness) run(t *testing.T) (*report.RunReport, report.Signal) {
	t.Helper()
	p := h.paths()
	r, err := h.detector(t, storage.NewFileBaseline(p.Baseline), 2).Run(context.Background())
	require.NoError(t, err)

	sig, err := report.NewReporter(storage.NewFileJournal(p.Journal), h.logger).Report(context.Background(), r)
	require.NoError(t, err)
	return r, sig
}

func (h *harness) baseline(t *testing.T) storage.Baseline {
	t.Helper()
	b := storage.NewFileBaseline(h.paths().Baseline)
	require.NoError(t, b.Load())
	return b.Snapshot()
}

func TestRankingSearchScenario(t *testing.T) {
	s, srv := newSite(t)
	s.set("/ranking", rankingPage())
	s.set("/search", searchPage("980円"))
	h := newHarness(t, srv)

	first, sig := h.run(t)
	assert.Equal(t, report.StatusOK, first.Status)
	assert.Equal(t, report.SignalSuccess, sig)
	assert.Empty(t, first.DetectedChanges)
	assert.Equal(t, 2, first.Count(report.OutcomeBootstrap))

	afterFirst := h.baseline(t)
	require.Len(t, afterFirst, 2)

	s.set("/search", searchPage("1,080円"))
	second, sig := h.run(t)
	assert.Equal(t, report.StatusChangesDetected, second.Status)
	assert.Equal(t, report.SignalChanges, sig)
	require.Len(t, second.DetectedChanges, 1)

	ev := second.DetectedChanges[0]
	assert.Equal(t, "search", ev.Page)
	assert.Equal(t, srv.URL+"/search", ev.URL)
	assert.Equal(t, afterFirst["search"], ev.PreviousHash)

	afterSecond := h.baseline(t)
	assert.Equal(t, afterFirst["ranking"], afterSecond["ranking"])
	assert.Equal(t, ev.CurrentHash, afterSecond["search"])
	assert.NotEqual(t, afterFirst["search"], afterSecond["search"])

	entries, err := storage.NewFileJournal(h.paths().Journal).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, report.StatusOK, entries[0].Status)
	assert.Equal(t, "run-2", entries[1].RunID)
}

func TestNoSpuriousChange(t *testing.T) {
	s, srv := newSite(t)
	s.set("/ranking", rankingPage())
	s.set("/search", searchPage("980円"))
	h := newHarness(t, srv)

	h.run(t)
	before := h.baseline(t)

	r, sig := h.run(t)
	assert.Equal(t, report.StatusOK, r.Status)
	assert.Equal(t, report.SignalSuccess, sig)
	assert.Empty(t, r.DetectedChanges)
	assert.Equal(t, 2, r.Count(report.OutcomeUnchanged))
	assert.Equal(t, before, h.baseline(t))
}

func TestSoftSkipIsolation(t *testing.T) {
	s, srv := newSite(t)
	s.set("/ranking", rankingPage())
	s.set("/search", searchPage("980円"))
	h := newHarness(t, srv)

	h.run(t)
	before := h.baseline(t)

	s.setDown("/ranking", true)
	s.set("/search", searchPage("500円"))

	r, _ := h.run(t)
	assert.Equal(t, report.StatusChangesDetected, r.Status)
	require.Len(t, r.DetectedChanges, 1)
	assert.Equal(t, "search", r.DetectedChanges[0].Page)

	assert.Equal(t, report.OutcomeSkipped, r.Targets[0].Outcome)
	assert.Contains(t, r.Targets[0].Reason, "503")
	assert.Equal(t, before["ranking"], h.baseline(t)["ranking"])
}

func TestAllTargetsSkippedIsInconclusive(t *testing.T) {
	_, srv := newSite(t)
	h := newHarness(t, srv)

	r, sig := h.run(t)
	assert.Equal(t, report.StatusInconclusive, r.Status)
	assert.Equal(t, report.SignalInconclusive, sig)
	assert.Equal(t, 2, r.Count(report.OutcomeSkipped))
	assert.Empty(t, h.baseline(t))
}

func TestExtractionFailureIsSoftSkip(t *testing.T) {
	s, srv := newSite(t)
	s.set("/ranking", rankingPage())
	s.set("/search", searchPage("980円"))
	h := newHarness(t, srv)
	h.targets[1].Selectors = []string{"span[price"}

	r, _ := h.run(t)
	assert.Equal(t, report.StatusOK, r.Status)
	assert.Equal(t, report.OutcomeBootstrap, r.Targets[0].Outcome)
	assert.Equal(t, report.OutcomeSkipped, r.Targets[1].Outcome)

	_, known := h.baseline(t)["search"]
	assert.False(t, known)
}

func TestNoTargetsIsOK(t *testing.T) {
	_, srv := newSite(t)
	h := newHarness(t, srv)
	h.targets = nil

	r, sig := h.run(t)
	assert.Equal(t, report.StatusOK, r.Status)
	assert.Equal(t, report.SignalSuccess, sig)
	assert.Empty(t, r.Targets)
}

func TestRunLogsEveryOutcome(t *testing.T) {
	s, srv := newSite(t)
	s.set("/ranking", rankingPage())
	h := newHarness(t, srv)

	h.run(t)

	var established, skipped *observer.LoggedEntry
	for _, e := range h.logs.All() {
		switch e.Message {
		case "Baseline established":
			established = &e
		case "Fetch failed, target skipped":
			skipped = &e
		}
	}
	require.NotNil(t, established)
	assert.Equal(t, "ranking", established.ContextMap()["target"])
	require.NotNil(t, skipped)
	assert.Equal(t, zapcore.WarnLevel, skipped.Level)
	assert.Equal(t, "search", skipped.ContextMap()["target"])

	summary := h.logs.FilterMessage("Detection run completed").All()
	require.Len(t, summary, 1)
	assert.Equal(t, "ok", summary[0].ContextMap()["status"])
}

func TestRunRecordsMetrics(t *testing.T) {
	s, srv := newSite(t)
	s.set("/ranking", rankingPage())
	h := newHarness(t, srv)

	h.run(t)

	path := filepath.Join(t.TempDir(), "structwatch.prom")
	require.NoError(t, h.metrics.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `structwatch_targets{outcome="bootstrap"} 1`)
	assert.Contains(t, string(data), `structwatch_targets{outcome="skipped"} 1`)
}

func TestCorruptBaselineIsFatal(t *testing.T) {
	_, srv := newSite(t)
	h := newHarness(t, srv)
	require.NoError(t, os.MkdirAll(h.stateDir, 0o755))
	require.NoError(t, os.WriteFile(h.paths().Baseline, []byte("{not json"), 0o644))

	r, err := h.detector(t, storage.NewFileBaseline(h.paths().Baseline), 1).Run(context.Background())
	assert.Nil(t, r)
	var perr *storage.PersistenceError
	assert.True(t, errors.As(err, &perr))
}

type failingFlush struct {
	*storage.FileBaseline
}

func (f failingFlush) Flush() error {
	return &storage.PersistenceError{Op: "flush", Path: f.Path(), Err: errors.New("disk full")}
}

func TestFlushFailureIsFatal(t *testing.T) {
	s, srv := newSite(t)
	s.set("/ranking", rankingPage())
	s.set("/search", searchPage("980円"))
	h := newHarness(t, srv)

	store := failingFlush{storage.NewFileBaseline(h.paths().Baseline)}
	r, err := h.detector(t, store, 2).Run(context.Background())
	assert.Nil(t, r)
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "flush", perr.Op)
}

func TestCancelledRunSkipsRemainingTargets(t *testing.T) {
	s, srv := newSite(t)
	s.set("/ranking", rankingPage())
	s.set("/search", searchPage("980円"))
	h := newHarness(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := h.detector(t, storage.NewFileBaseline(h.paths().Baseline), 1).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.StatusInconclusive, r.Status)
	for _, res := range r.Targets {
		assert.Equal(t, report.OutcomeSkipped, res.Outcome)
		assert.Equal(t, reasonCancelled, res.Reason)
	}
}

// barrierFetcher блокируется, пока n загрузок не идут одновременно
type barrierFetcher struct {
	n       int32
	arrived int32
	release chan struct{}
}

func (b *barrierFetcher) Fetch(ctx context.Context, urlStr string) (*fetcher.Snapshot, error) {
	if atomic.AddInt32(&b.arrived, 1) == b.n {
		close(b.release)
	}
	select {
	case <-b.release:
	case <-time.After(2 * time.Second):
		return nil, &fetcher.FetchError{URL: urlStr, Err: errors.New("workers did not run in parallel")}
	}
	return &fetcher.Snapshot{
		URL:         urlStr,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Body:        []byte(searchPage(strings.TrimPrefix(urlStr, "https://shop.example.test/"))),
	}, nil
}

func TestWorkersFetchInParallel(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	logger := observability.NewWithCore(core)

	var targets []config.Target
	for i := 0; i < 3; i++ {
		targets = append(targets, config.Target{
			ID:        fmt.Sprintf("t%d", i),
			URL:       fmt.Sprintf("https://shop.example.test/%d", i),
			Selectors: searchSelectors,
		})
	}

	gen, err := fingerprint.NewGenerator("")
	require.NoError(t, err)
	extractor := fingerprint.NewExtractor(gen, fingerprint.ParseHTML, 0)
	bf := &barrierFetcher{n: 3, release: make(chan struct{})}
	store := storage.NewFileBaseline(filepath.Join(t.TempDir(), "baseline.json"))

	d := NewDetector(targets, fetcher.NewRouter(bf, nil), extractor, store, logger, nil, Options{Workers: 3})
	r, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, r.Count(report.OutcomeBootstrap))
	assert.Len(t, store.Snapshot(), 3)
	// Разные цены дают разные отпечатки
	fps := map[string]bool{}
	for _, res := range r.Targets {
		fps[res.Fingerprint] = true
	}
	assert.Len(t, fps, 3)
}

func TestRenderTargetsUseRenderer(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	logger := observability.NewWithCore(core)

	plain := &countingFetcher{}
	rendered := &countingFetcher{}
	targets := []config.Target{
		{ID: "static", URL: "https://a.example.test/", Selectors: searchSelectors},
		{ID: "spa", URL: "https://b.example.test/", Selectors: searchSelectors, Render: true},
	}

	gen, err := fingerprint.NewGenerator("")
	require.NoError(t, err)
	store := storage.NewFileBaseline(filepath.Join(t.TempDir(), "baseline.json"))
	d := NewDetector(targets, fetcher.NewRouter(plain, rendered), fingerprint.NewExtractor(gen, fingerprint.ParseHTML, 0), store, logger, nil, Options{})

	_, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.test/"}, plain.urls)
	assert.Equal(t, []string{"https://b.example.test/"}, rendered.urls)
}

type countingFetcher struct {
	mu   sync.Mutex
	urls []string
}

func (c *countingFetcher) Fetch(_ context.Context, urlStr string) (*fetcher.Snapshot, error) {
	c.mu.Lock()
	c.urls = append(c.urls, urlStr)
	c.mu.Unlock()
	return &fetcher.Snapshot{URL: urlStr, StatusCode: http.StatusOK, ContentType: "text/html", Body: []byte(searchPage("1円"))}, nil
}

func TestRenderTargetWithoutRendererFallsBackToHTTP(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := observability.NewWithCore(core)

	plain := &countingFetcher{}
	targets := []config.Target{
		{ID: "spa", URL: "https://b.example.test/", Selectors: searchSelectors, Render: true},
	}

	gen, err := fingerprint.NewGenerator("")
	require.NoError(t, err)
	store := storage.NewFileBaseline(filepath.Join(t.TempDir(), "baseline.json"))
	d := NewDetector(targets, fetcher.NewRouter(plain, nil), fingerprint.NewExtractor(gen, fingerprint.ParseHTML, 0), store, logger, nil, Options{})

	r, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count(report.OutcomeBootstrap))
	assert.Equal(t, []string{"https://b.example.test/"}, plain.urls)

	warned := logs.FilterMessage("Headless browser disabled, fetching rendered target over HTTP").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
	assert.Equal(t, "spa", warned[0].ContextMap()["target"])
}

// Смена алгоритма отпечатка: старый md5 в базовой линии даёт одно изменение
// с предупреждением, дальше сравнение идёт уже в новом алгоритме.
func TestAlgorithmSwitchReportsOneChange(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := observability.NewWithCore(core)

	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"static": "834e8876bdee955a1a1b6959e890cf6c"}`), 0o644))

	targets := []config.Target{{ID: "static", URL: "https://a.example.test/", Selectors: searchSelectors}}
	gen, err := fingerprint.NewGenerator(fingerprint.AlgorithmSHA256)
	require.NoError(t, err)
	newDetector := func() *Detector {
		return NewDetector(targets, fetcher.NewRouter(&countingFetcher{}, nil), fingerprint.NewExtractor(gen, fingerprint.ParseHTML, 0), storage.NewFileBaseline(path), logger, nil, Options{})
	}

	first, err := newDetector().Run(context.Background())
	require.NoError(t, err)
	require.Len(t, first.DetectedChanges, 1)
	assert.Equal(t, "834e8876bdee955a1a1b6959e890cf6c", first.DetectedChanges[0].PreviousHash)
	assert.Len(t, first.DetectedChanges[0].CurrentHash, gen.HexLen())

	mismatch := logs.FilterMessage("Baseline fingerprint was produced by another algorithm").All()
	require.Len(t, mismatch, 1)
	assert.Equal(t, "sha256", mismatch[0].ContextMap()["algorithm"])

	second, err := newDetector().Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.DetectedChanges)
	assert.Equal(t, 1, second.Count(report.OutcomeUnchanged))
	assert.Len(t, logs.FilterMessage("Baseline fingerprint was produced by another algorithm").All(), 1)
}
