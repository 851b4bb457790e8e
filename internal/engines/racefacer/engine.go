// Package racefacer ingests RaceFacer live sessions by polling the live-data
// JSON endpoint through a rotating chain of relay proxies.
package racefacer

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"live-timing/internal/circuitbreaker"
	"live-timing/internal/common/errors"
	commonhttp "live-timing/internal/common/http"
	"live-timing/internal/common/logging"
	"live-timing/internal/common/utils"
	"live-timing/internal/engines"
	"live-timing/internal/models"
	"live-timing/internal/store"
)

const (
	// LiveDataURL is the RaceFacer live-data endpoint
	LiveDataURL = "https://live.racefacer.com/ajax/live-data"

	defaultInterval    = 2 * time.Second
	defaultMaxInterval = 30 * time.Second
	defaultSlowdownAt  = 5
	defaultPauseBase   = 500 * time.Millisecond
	defaultPauseMax    = 4 * time.Second
)

// Options tunes a RaceFacer engine. Zero values select the defaults.
type Options struct {
	Proxies     []Proxy
	HTTPClient  *http.Client
	Endpoint    string
	MaxInterval time.Duration
	// SlowdownAt is the failure streak from which the interval doubles
	SlowdownAt int
	PauseBase  time.Duration
	PauseMax   time.Duration
	Breaker    circuitbreaker.Config
}

// Factory returns an engines.Factory building RaceFacer engines with opts
func Factory(opts Options) engines.Factory {
	return func(cfg engines.Config) (engines.Engine, error) {
		return New(cfg, opts)
	}
}

type cycleResult struct {
	id       int
	index    int
	snapshot *Snapshot
	err      error
}

// Engine is the RaceFacer poll engine. Cycle state is owned by the loop
// goroutine; the atomics mirror it for Stats.
type Engine struct {
	*engines.Base

	opts     Options
	slug     string
	logger   logging.Logger
	breakers *circuitbreaker.GoBreakerManager

	results chan cycleResult
	pollNow chan struct{}

	store        *store.Store
	baseInterval time.Duration
	interval     time.Duration
	proxyIndex   int
	cycleID      int
	cycleCancel  context.CancelFunc
	timer        *time.Timer
	lastRace     *models.RaceState

	statInterval atomic.Int64
	statIndex    atomic.Int64
	rows         atomic.Int64
}

// New creates a RaceFacer engine for cfg.RaceURL
func New(cfg engines.Config, opts Options) (*Engine, error) {
	slug, err := Slug(cfg.RaceURL)
	if err != nil {
		return nil, err
	}

	if len(opts.Proxies) == 0 {
		opts.Proxies = ProxyChain("", DefaultFallbacks, 0, 0)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = commonhttp.NewHTTPClient(commonhttp.WithTimeout(RelayTimeout))
	}
	if opts.Endpoint == "" {
		opts.Endpoint = LiveDataURL
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}
	if opts.SlowdownAt <= 0 {
		opts.SlowdownAt = defaultSlowdownAt
	}
	if opts.PauseBase <= 0 {
		opts.PauseBase = defaultPauseBase
	}
	if opts.PauseMax <= 0 {
		opts.PauseMax = defaultPauseMax
	}
	if opts.Breaker == (circuitbreaker.Config{}) {
		opts.Breaker = circuitbreaker.ProxyConfig
	}
	if err := opts.Breaker.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.UpdateInterval
	if interval <= 0 {
		interval = defaultInterval
	}

	base := engines.NewBase(models.ProviderRaceFacer, cfg)
	logger := base.Logger().WithFields(logging.String("slug", slug))
	e := &Engine{
		Base:         base,
		opts:         opts,
		slug:         slug,
		logger:       logger,
		breakers:     circuitbreaker.NewGoBreakerManager(opts.Breaker, logger),
		results:      make(chan cycleResult, 1),
		pollNow:      make(chan struct{}, 1),
		store:        store.New(),
		baseInterval: interval,
		interval:     interval,
	}
	e.statInterval.Store(int64(interval))
	return e, nil
}

// Slug extracts the session slug from a RaceFacer URL: the slug query
// parameter when present, otherwise the last path segment.
func Slug(raceURL string) (string, error) {
	raw := strings.TrimSpace(raceURL)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", errors.ConfigError(fmt.Sprintf("invalid racefacer race url %q", raceURL))
	}
	if slug := strings.TrimSpace(u.Query().Get("slug")); slug != "" {
		return slug, nil
	}
	slug := path.Base(strings.TrimRight(u.Path, "/"))
	if slug == "" || slug == "." || slug == "/" {
		return "", errors.ConfigError(fmt.Sprintf("racefacer race url %q has no session slug", raceURL))
	}
	return slug, nil
}

// Start begins polling immediately
func (e *Engine) Start(ctx context.Context) error {
	runCtx, err := e.Begin(ctx, engines.StatePolling)
	if err != nil {
		return err
	}

	e.logger.Info("Starting racefacer engine",
		logging.Duration("interval", e.baseInterval),
		logging.Int("proxies", len(e.opts.Proxies)),
	)
	e.Go("racefacer loop", func() { e.run(runCtx) })
	return nil
}

// PollNow starts a cycle right away, cancelling one still in flight
func (e *Engine) PollNow() {
	select {
	case e.pollNow <- struct{}{}:
	default:
	}
}

// Stats returns engine statistics including the proxy chain state
func (e *Engine) Stats() engines.Stats {
	stats := e.BaseStats()
	stats.Rows = int(e.rows.Load())
	stats.PollInterval = time.Duration(e.statInterval.Load())
	stats.ProxyIndex = int(e.statIndex.Load())
	stats.Breakers = e.breakers.AllStats()
	return stats
}

func (e *Engine) run(ctx context.Context) {
	defer e.teardown()

	e.startCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.pollNow:
			e.startCycle(ctx)
		case <-e.timerC():
			e.timer = nil
			e.startCycle(ctx)
		case res := <-e.results:
			if ctx.Err() != nil || !e.IsRunning() {
				return
			}
			e.finishCycle(ctx, res)
		}
	}
}

func (e *Engine) timerC() <-chan time.Time {
	if e.timer == nil {
		return nil
	}
	return e.timer.C
}

// startCycle cancels any cycle in flight so at most one fetch is outstanding
func (e *Engine) startCycle(ctx context.Context) {
	e.stopTimer()
	if e.cycleCancel != nil {
		e.cycleCancel()
	}
	e.cycleID++
	id := e.cycleID
	start := e.proxyIndex

	cycleCtx, cancel := context.WithCancel(ctx)
	e.cycleCancel = cancel

	e.Go("racefacer poll", func() {
		defer cancel()
		snap, index, err := e.fetch(cycleCtx, start)
		if cycleCtx.Err() != nil {
			return
		}
		select {
		case e.results <- cycleResult{id: id, index: index, snapshot: snap, err: err}:
		case <-ctx.Done():
		}
	})
}

func (e *Engine) finishCycle(ctx context.Context, res cycleResult) {
	if res.id != e.cycleID {
		e.logger.Debug("Discarding stale poll result", logging.Int("cycle", res.id))
		return
	}
	e.cycleCancel = nil
	e.proxyIndex = res.index
	e.statIndex.Store(int64(res.index))

	if res.err != nil {
		count, fatal := e.Fail(res.err)
		if fatal {
			return
		}
		if count >= e.opts.SlowdownAt {
			e.setInterval(min(e.interval*2, e.opts.MaxInterval))
		}
		e.schedule(ctx)
		return
	}

	e.RecordSuccess()
	if e.interval != e.baseInterval {
		e.logger.Info("Poll interval restored", logging.Duration("interval", e.baseInterval))
		e.setInterval(e.baseInterval)
	}
	e.apply(res.snapshot)
	e.schedule(ctx)
}

func (e *Engine) setInterval(d time.Duration) {
	e.interval = d
	e.statInterval.Store(int64(d))
}

func (e *Engine) schedule(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	e.stopTimer()
	e.timer = time.NewTimer(e.interval)
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) teardown() {
	e.stopTimer()
	if e.cycleCancel != nil {
		e.cycleCancel()
		e.cycleCancel = nil
	}
}

// fetch walks the proxy chain from start, advancing on every failure, for
// up to two passes. It returns the proxy index to start the next cycle at.
func (e *Engine) fetch(ctx context.Context, start int) (*Snapshot, int, error) {
	proxies := e.opts.Proxies
	attempts := 2 * len(proxies)
	index := start % len(proxies)
	target := e.queryURL()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := utils.Sleep(ctx, utils.Backoff(e.opts.PauseBase, attempt-1, e.opts.PauseMax)); err != nil {
				return nil, index, err
			}
		}

		proxy := proxies[index]
		snap, err := e.attempt(ctx, proxy, target)
		if err == nil {
			return snap, index, nil
		}
		if ctx.Err() != nil {
			return nil, index, ctx.Err()
		}

		lastErr = err
		e.logger.Debug("Proxy attempt failed",
			logging.String("proxy", proxy.Name),
			logging.Int("attempt", attempt+1),
			logging.String("error_type", string(errors.GetType(err))),
			logging.Err(err),
		)
		index = (index + 1) % len(proxies)
	}

	return nil, index, errors.ConnectionError(
		fmt.Sprintf("all proxies failed after %d attempts", attempts),
		fmt.Errorf("%w: %w", engines.ErrAllProxiesFailed, lastErr),
	)
}

func (e *Engine) attempt(ctx context.Context, proxy Proxy, target string) (*Snapshot, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, proxy.Timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Accept", "application/json")

	var snap *Snapshot
	err := e.breakers.Execute(attemptCtx, proxy.Name, func(ctx context.Context) error {
		resp, err := commonhttp.Get(ctx, e.opts.HTTPClient, proxy.URLFor(target), header)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return errors.ConnectionError(fmt.Sprintf("proxy %s returned status %d", proxy.Name, resp.StatusCode), nil)
		}
		snap, err = Decode(resp.Body)
		return err
	})
	if err != nil && stderrors.Is(err, context.Canceled) && ctx.Err() == nil {
		err = errors.TimeoutError("proxy "+proxy.Name, err)
	}
	return snap, err
}

// queryURL builds the live-data URL with cache-busting parameters
func (e *Engine) queryURL() string {
	q := url.Values{}
	q.Set("slug", e.slug)
	q.Set("_", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("r", utils.CacheBustToken())
	return e.opts.Endpoint + "?" + q.Encode()
}

// apply stores the snapshot and emits it. Best laps never get worse across
// polls of the same row.
func (e *Engine) apply(snap *Snapshot) {
	rows := snap.Competitors
	for i := range rows {
		prev, ok := e.store.Get(rows[i].RowID)
		if !ok {
			continue
		}
		if prev.BestLapMs.Less(rows[i].BestLapMs) {
			rows[i].BestLapMs = prev.BestLapMs
			rows[i].BestLapText = prev.BestLapText
		}
		if prev.Position != rows[i].Position {
			rows[i].PreviousPosition = prev.Position
		} else {
			rows[i].PreviousPosition = prev.PreviousPosition
		}
	}
	e.store.UpsertSnapshot(rows)
	e.rows.Store(int64(e.store.Len()))

	race := snap.Race
	e.logRaceChange(race)
	e.lastRace = &race

	e.Emit(engines.Payload{
		Provider:    models.ProviderRaceFacer,
		Race:        &race,
		Competitors: e.store.ReadOrdered(),
	})
}

func (e *Engine) logRaceChange(race models.RaceState) {
	if e.lastRace == nil {
		return
	}
	if e.lastRace.TimeRemainingText != race.TimeRemainingText || e.lastRace.CurrentLap != race.CurrentLap {
		e.logger.Debug("Race state changed",
			logging.String("time_remaining", race.TimeRemainingText),
			logging.Int("current_lap", race.CurrentLap),
			logging.String("status", race.Status),
		)
	}
}
