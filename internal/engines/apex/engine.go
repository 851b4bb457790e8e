// Package apex ingests Apex Timing live sessions: a push connection carrying
// a pipe-delimited line protocol, with the race page HTML grid as the
// initial snapshot.
package apex

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"live-timing/internal/common/errors"
	commonhttp "live-timing/internal/common/http"
	"live-timing/internal/common/logging"
	"live-timing/internal/common/utils"
	"live-timing/internal/engines"
	"live-timing/internal/models"
	"live-timing/internal/store"
)

const (
	// PushPort is the fixed port of the Apex push endpoint
	PushPort = 8523

	defaultReconnectBase = 2 * time.Second
	defaultReconnectMax  = 30 * time.Second
	defaultGridTimeout   = 15 * time.Second
)

// Options tunes an Apex engine. Zero values select the defaults.
type Options struct {
	Dialer        Dialer
	HTTPClient    *http.Client
	Endpoint      string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	GridTimeout   time.Duration
}

// Factory returns an engines.Factory building Apex engines with opts
func Factory(opts Options) engines.Factory {
	return func(cfg engines.Config) (engines.Engine, error) {
		return New(cfg, opts)
	}
}

type eventKind int

const (
	evStart eventKind = iota
	evConnected
	evDialFailed
	evMessage
	evClosed
	evReconnectDue
	evGridFetched
	evGridFailed
)

func (k eventKind) String() string {
	return [...]string{"start", "connected", "dial_failed", "message", "closed", "reconnect_due", "grid_fetched", "grid_failed"}[k]
}

type event struct {
	kind   eventKind
	conn   Conn
	connID int
	seq    int
	text   string
	err    error
}

// Engine is the Apex push engine. All state below the events channel is
// owned by the loop goroutine.
type Engine struct {
	*engines.Base

	opts     Options
	raceURL  string
	endpoint string
	origin   string
	logger   logging.Logger

	events chan event

	store      *store.Store
	race       models.RaceState
	raceKnown  bool
	lightKnown bool

	conn           Conn
	connID         int
	reconnectTimer *time.Timer
	gridCancel     context.CancelFunc
	gridSeq        int

	rows       atomic.Int64
	reconnects atomic.Int64
}

// New creates an Apex engine for cfg.RaceURL
func New(cfg engines.Config, opts Options) (*Engine, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.RaceURL))
	if err != nil || u.Hostname() == "" {
		return nil, errors.ConfigError(fmt.Sprintf("invalid apex race url %q", cfg.RaceURL))
	}

	if opts.Dialer == nil {
		opts.Dialer = NewWebSocketDialer(10 * time.Second)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = commonhttp.NewHTTPClient(commonhttp.WithTimeout(defaultGridTimeout))
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = defaultReconnectBase
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = defaultReconnectMax
	}
	if opts.GridTimeout <= 0 {
		opts.GridTimeout = defaultGridTimeout
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = PushEndpoint(u)
	}

	base := engines.NewBase(models.ProviderApex, cfg)
	return &Engine{
		Base:     base,
		opts:     opts,
		raceURL:  u.String(),
		endpoint: endpoint,
		origin:   u.Scheme + "://" + u.Host,
		logger:   base.Logger().WithFields(logging.String("endpoint", endpoint)),
		events:   make(chan event, 64),
		store:    store.New(),
	}, nil
}

// PushEndpoint derives the secure push endpoint from the race page URL
func PushEndpoint(raceURL *url.URL) string {
	return fmt.Sprintf("wss://%s:%d/", raceURL.Hostname(), PushPort)
}

// Start connects and fetches the race page grid in the background
func (e *Engine) Start(ctx context.Context) error {
	runCtx, err := e.Begin(ctx, engines.StateConnecting)
	if err != nil {
		return err
	}

	e.logger.Info("Starting apex engine")
	e.Go("apex loop", func() { e.run(runCtx) })
	return nil
}

// Stats returns engine statistics
func (e *Engine) Stats() engines.Stats {
	stats := e.BaseStats()
	stats.Rows = int(e.rows.Load())
	return stats
}

func (e *Engine) run(ctx context.Context) {
	defer e.teardown()

	e.transition(ctx, event{kind: evStart})
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			if ctx.Err() != nil || !e.IsRunning() {
				return
			}
			e.transition(ctx, ev)
		}
	}
}

// transition is the single place where engine state changes
func (e *Engine) transition(ctx context.Context, ev event) {
	switch ev.kind {
	case evStart:
		e.dial(ctx)
		e.fetchGrid(ctx)

	case evConnected:
		if ev.connID != e.connID {
			_ = ev.conn.Close()
			return
		}
		e.conn = ev.conn
		e.SetState(engines.StateConnected)
		e.RecordSuccess()
		e.logger.Info("Push connection established")
		e.Go("apex reader", func() { e.read(ctx, ev.conn, ev.connID) })

	case evDialFailed, evClosed:
		if ev.connID != e.connID {
			return
		}
		if e.conn != nil {
			_ = e.conn.Close()
			e.conn = nil
		}
		e.SetState(engines.StateDisconnected)

		count, fatal := e.Fail(ev.err)
		if fatal {
			return
		}
		delay := utils.Backoff(e.opts.ReconnectBase, count-1, e.opts.ReconnectMax)
		e.SetState(engines.StateReconnecting)
		e.logger.Info("Scheduling reconnect",
			logging.Duration("delay", delay),
			logging.Int("consecutive_errors", count),
		)
		e.reconnectTimer = time.AfterFunc(delay, func() {
			e.post(ctx, event{kind: evReconnectDue})
		})

	case evReconnectDue:
		e.reconnectTimer = nil
		e.reconnects.Add(1)
		e.dial(ctx)

	case evMessage:
		if ev.connID != e.connID {
			return
		}
		if e.applyMessage(ctx, ev.text) {
			e.emit()
		}

	case evGridFetched:
		if ev.seq != e.gridSeq {
			return
		}
		e.gridCancel = nil
		rows := ParseGrid(ev.text)
		if len(rows) == 0 {
			e.logger.Warn("Race page contained no grid rows")
			return
		}
		e.store.UpsertSnapshot(rows)
		e.logger.Debug("Grid loaded from race page", logging.Int("rows", len(rows)))
		e.emit()

	case evGridFailed:
		if ev.seq != e.gridSeq {
			return
		}
		e.gridCancel = nil
		e.logger.Warn("Race page grid fetch failed", logging.Err(ev.err))
	}
}

func (e *Engine) dial(ctx context.Context) {
	e.connID++
	id := e.connID
	e.SetState(engines.StateConnecting)

	header := http.Header{}
	header.Set("Origin", e.origin)
	header.Set("User-Agent", commonhttp.DefaultUserAgent)

	e.Go("apex dial", func() {
		conn, err := e.opts.Dialer.Dial(ctx, e.endpoint, header)
		if err != nil {
			e.post(ctx, event{kind: evDialFailed, connID: id, err: err})
			return
		}
		if !e.post(ctx, event{kind: evConnected, conn: conn, connID: id}) {
			_ = conn.Close()
		}
	})
}

func (e *Engine) read(ctx context.Context, conn Conn, id int) {
	for {
		text, err := conn.ReadMessage()
		if err != nil {
			if !stderrors.Is(err, context.Canceled) && !errors.IsType(err, errors.ErrTypeConnection) {
				err = errors.ConnectionError("push connection closed", err)
			}
			e.post(ctx, event{kind: evClosed, connID: id, err: err})
			return
		}
		if !e.post(ctx, event{kind: evMessage, connID: id, text: text}) {
			return
		}
	}
}

// fetchGrid loads the race page, cancelling any fetch still in flight
func (e *Engine) fetchGrid(ctx context.Context) {
	e.cancelGridFetch()
	seq := e.gridSeq

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.GridTimeout)
	e.gridCancel = cancel

	e.Go("apex grid fetch", func() {
		defer cancel()
		resp, err := commonhttp.Get(fetchCtx, e.opts.HTTPClient, e.raceURL, nil)
		if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			err = errors.ConnectionError(fmt.Sprintf("race page returned status %d", resp.StatusCode), nil)
		}
		if err != nil {
			if stderrors.Is(err, context.Canceled) {
				return
			}
			e.post(ctx, event{kind: evGridFailed, seq: seq, err: err})
			return
		}
		e.post(ctx, event{kind: evGridFetched, seq: seq, text: string(resp.Body)})
	})
}

// cancelGridFetch aborts a pending page fetch and makes its result stale
func (e *Engine) cancelGridFetch() {
	if e.gridCancel != nil {
		e.gridCancel()
		e.gridCancel = nil
	}
	e.gridSeq++
}

// post hands an event to the loop. It reports false once the engine context
// is done.
func (e *Engine) post(ctx context.Context, ev event) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) teardown() {
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	if e.gridCancel != nil {
		e.gridCancel()
		e.gridCancel = nil
	}
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
	// Invalidate any dial still in flight.
	e.connID++
}

// applyMessage applies every line of one push message and reports whether
// anything changed.
func (e *Engine) applyMessage(ctx context.Context, text string) bool {
	applied := false
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if e.applyCommand(ctx, parseLine(line)) {
			applied = true
		}
	}
	e.rows.Store(int64(e.store.Len()))
	return applied
}

func (e *Engine) applyCommand(ctx context.Context, cmd command) bool {
	switch cmd.kind {
	case cmdGrid:
		rows := ParseGrid(cmd.value)
		if len(rows) == 0 {
			e.logger.Debug("Empty grid fragment, refetching race page")
			e.fetchGrid(ctx)
			return false
		}
		// The push snapshot is authoritative over any page fetch in flight.
		e.cancelGridFetch()
		e.store.UpsertSnapshot(rows)
		return true

	case cmdCell:
		return e.store.PatchField(cmd.row, FieldForColumn(cmd.column), cleanText(cmd.value))

	case cmdLapCompleted:
		return e.store.CompleteLap(cmd.row, cleanText(cmd.value))

	case cmdPosition:
		return e.store.PatchField(cmd.row, store.FieldPosition, cmd.value)

	case cmdPit:
		return e.store.PatchField(cmd.row, store.FieldPit, cmd.value)

	case cmdRaceTimeText:
		text := cleanText(cmd.value)
		e.race.TimeRemainingText = text
		e.race.TimeRemainingSeconds, _ = models.ParseClock(text)
		e.raceKnown = true
		return true

	case cmdRaceCountdown:
		ms, err := strconv.Atoi(strings.TrimSpace(cmd.value))
		if err != nil || ms < 0 {
			return false
		}
		e.race.TimeRemainingSeconds = ms / 1000
		e.race.TimeRemainingText = formatClock(ms / 1000)
		e.raceKnown = true
		return true

	case cmdLight:
		status, ok := lightStatus(cmd.value)
		if !ok {
			return false
		}
		e.race.Status = status
		e.lightKnown = true
		e.raceKnown = true
		return true

	case cmdTitle:
		if e.lightKnown {
			return false
		}
		text := cleanText(cmd.value)
		if text == "" {
			return false
		}
		e.race.Status = text
		e.raceKnown = true
		return true
	}
	return false
}

func (e *Engine) emit() {
	e.rows.Store(int64(e.store.Len()))
	if e.store.Len() == 0 {
		return
	}

	var race *models.RaceState
	if e.raceKnown {
		r := e.race
		race = &r
	}
	e.Emit(engines.Payload{
		Provider:    models.ProviderApex,
		Race:        race,
		Competitors: e.store.ReadOrdered(),
	})
}
