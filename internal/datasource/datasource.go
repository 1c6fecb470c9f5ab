// Package datasource implements the Datasource Client of spec.md §4.1: it fetches
// historical blocks between a known cursor and the current chain head, then
// maintains a live subscription, delivering a single ordered stream of operation
// and big-map batches. Grounded on the teacher's cmd/headers/download/downloader.go
// (keyed logging, grpc keepalive/backoff idiom translated to HTTP/WS) and on
// other_examples' 0xmhha-indexer-go pkg/fetch/fetcher.go (paged fetch-then-subscribe
// shape, zap logging, retry-with-delay loop) and polymarket-indexer's syncer.go
// (backfill/realtime mode switching, confirmation window, Prometheus gauges).
package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dipdup-net/indexer/internal/metrics"
	"github.com/dipdup-net/indexer/internal/models"
)

// seenCacheSize bounds the dedup window kept across websocket reconnects: a
// push subscription that re-delivers its last few messages after a dial
// retry is common, and hash+counter is the wire identity spec.md §6 defines.
const seenCacheSize = 4096

// OperationBatch is a contiguous, already-ordered run of operations delivered
// downstream in one shot — either one HTTP page or one flushed WebSocket buffer.
type OperationBatch struct {
	Level      int64
	Operations []models.Operation
}

// BigMapBatch is the big-map analogue of OperationBatch.
type BigMapBatch struct {
	Level int64
	Diffs []models.BigMapDiff
}

// RollbackEvent carries the single integer level a reorg rolled back to
// (spec.md §6 "Rollback carries a single integer level").
type RollbackEvent struct {
	Level int64
}

// Client is the narrow interface the rest of the pipeline depends on; Live is
// the gorilla/websocket + net/http implementation.
type Client interface {
	Subscribe(ctx context.Context, contracts []string, entrypoints []string, bigMapPaths []string) error
	FetchOperations(ctx context.Context, levelFrom, levelTo int64) ([]models.Operation, error)
	FetchBigMaps(ctx context.Context, levelFrom, levelTo int64) ([]models.BigMapDiff, error)
	CurrentHeadLevel(ctx context.Context) (int64, error)
	OnRollback(cb func(RollbackEvent))
	Operations() <-chan OperationBatch
	BigMaps() <-chan BigMapBatch
	Run(ctx context.Context) error
}

// Config controls paging, quiescence, and retry behaviour.
type Config struct {
	Name             string
	BaseURL          string
	PageSize         int64         // Δ in spec.md §4.1
	QuiescenceWindow time.Duration // heuristic flush delay for live pushes
	MaxRetryElapsed  time.Duration // cap on backoff.ExponentialBackOff
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PageSize <= 0 {
		out.PageSize = 1000
	}
	if out.QuiescenceWindow <= 0 {
		out.QuiescenceWindow = 500 * time.Millisecond
	}
	if out.MaxRetryElapsed <= 0 {
		out.MaxRetryElapsed = 2 * time.Minute
	}
	return out
}

// Live is the HTTP-paged-history + WebSocket-push implementation of Client.
type Live struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.SugaredLogger

	opCh  chan OperationBatch
	bmCh  chan BigMapBatch
	onRB  []func(RollbackEvent)

	contracts   []string
	entrypoints []string
	bigMapPaths []string

	cursor int64 // L in spec.md §4.1

	seen *lru.Cache[string, struct{}]
}

// NewLive constructs a Live datasource client.
func NewLive(cfg Config, log *zap.SugaredLogger) *Live {
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &Live{
		cfg:        cfg.withDefaults(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
		opCh:       make(chan OperationBatch, 16),
		bmCh:       make(chan BigMapBatch, 16),
		seen:       seen,
	}
}

// seenKey identifies a pushed operation across a reconnect; hash+counter is
// the wire identity spec.md §6 assigns an operation group.
func seenKey(hash string, counter int64) string {
	return hash + ":" + strconv.FormatInt(counter, 10)
}

func (l *Live) Operations() <-chan OperationBatch { return l.opCh }
func (l *Live) BigMaps() <-chan BigMapBatch       { return l.bmCh }
func (l *Live) OnRollback(cb func(RollbackEvent))  { l.onRB = append(l.onRB, cb) }

func (l *Live) Subscribe(ctx context.Context, contracts, entrypoints, bigMapPaths []string) error {
	l.contracts = contracts
	l.entrypoints = entrypoints
	l.bigMapPaths = bigMapPaths
	return nil
}

// CurrentHeadLevel polls the explorer's head endpoint with retry (transient
// errors only; structural/schema errors are fatal per spec.md §4.1).
func (l *Live) CurrentHeadLevel(ctx context.Context) (int64, error) {
	var head int64
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.BaseURL+"/head", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := l.httpClient.Do(req)
		if err != nil {
			return err // transient: retry
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("head endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("head endpoint returned %d", resp.StatusCode))
		}
		var body struct {
			Level int64 `json:"level"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed head response: %w", err))
		}
		head = body.Level
		return nil
	}
	if err := l.retry(ctx, op); err != nil {
		return 0, err
	}
	metrics.DatasourceHeadLevel.WithLabelValues(l.cfg.Name).Set(float64(head))
	return head, nil
}

// rawOperation is the wire shape described in spec.md §6: {hash, counter, level,
// timestamp, sender_address, target_address, amount, parameter, storage, type}.
type rawOperation struct {
	Hash      string          `json:"hash"`
	Counter   int64           `json:"counter"`
	Level     int64           `json:"level"`
	Index     int             `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
	Sender    string          `json:"sender_address"`
	Target    string          `json:"target_address"`
	TargetTy  string          `json:"target_typename,omitempty"`
	Amount    int64           `json:"amount"`
	Parameter json.RawMessage `json:"parameter"`
	Storage   json.RawMessage `json:"storage"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
}

func convertOperation(raw rawOperation) models.Operation {
	op := models.Operation{
		Hash:       raw.Hash,
		Counter:    raw.Counter,
		Level:      raw.Level,
		Index:      raw.Index,
		Timestamp:  raw.Timestamp,
		Kind:       models.OperationKind(raw.Type),
		Status:     models.OperationStatus(raw.Status),
		Sender:     raw.Sender,
		Target:     raw.Target,
		TargetType: raw.TargetTy,
		Amount:     raw.Amount,
		Storage:    raw.Storage,
	}
	if op.Status == "" {
		op.Status = models.OperationStatusApplied
	}
	if len(raw.Parameter) > 0 {
		var p struct {
			Entrypoint string          `json:"entrypoint"`
			Value      json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw.Parameter, &p); err == nil {
			op.Parameter = models.UnknownParameter{EntrypointName: p.Entrypoint, Value: p.Value}
		}
	}
	return op
}

// FetchOperations requests one page of operations with level in
// [levelFrom, levelTo], sorted by (level, group_counter, op_index) as required by
// spec.md §4.1.
func (l *Live) FetchOperations(ctx context.Context, levelFrom, levelTo int64) ([]models.Operation, error) {
	var ops []models.Operation
	op := func() error {
		q := url.Values{}
		q.Set("level_from", strconv.FormatInt(levelFrom, 10))
		q.Set("level_to", strconv.FormatInt(levelTo, 10))
		for _, c := range l.contracts {
			q.Add("contract", c)
		}
		for _, e := range l.entrypoints {
			q.Add("entrypoint", e)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.BaseURL+"/operations?"+q.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := l.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("operations endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("operations endpoint returned %d", resp.StatusCode))
		}

		var raws []rawOperation
		if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed operations response: %w", err))
		}
		ops = make([]models.Operation, 0, len(raws))
		for _, r := range raws {
			ops = append(ops, convertOperation(r))
		}
		sort.Slice(ops, func(i, j int) bool {
			if ops[i].Level != ops[j].Level {
				return ops[i].Level < ops[j].Level
			}
			if ops[i].Counter != ops[j].Counter {
				return ops[i].Counter < ops[j].Counter
			}
			return ops[i].Index < ops[j].Index
		})
		return nil
	}
	if err := l.retry(ctx, op); err != nil {
		return nil, err
	}
	return ops, nil
}

// FetchBigMaps is the big-map analogue of FetchOperations.
func (l *Live) FetchBigMaps(ctx context.Context, levelFrom, levelTo int64) ([]models.BigMapDiff, error) {
	var diffs []models.BigMapDiff
	op := func() error {
		q := url.Values{}
		q.Set("level_from", strconv.FormatInt(levelFrom, 10))
		q.Set("level_to", strconv.FormatInt(levelTo, 10))
		for _, p := range l.bigMapPaths {
			q.Add("path", p)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.BaseURL+"/bigmaps?"+q.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := l.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("bigmaps endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("bigmaps endpoint returned %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&diffs); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed bigmaps response: %w", err))
		}
		return nil
	}
	if err := l.retry(ctx, op); err != nil {
		return nil, err
	}
	return diffs, nil
}

// retry wraps op with capped exponential backoff for transient errors;
// backoff.Permanent-wrapped errors (structural/schema mismatches) abort
// immediately, matching spec.md §4.1 failure semantics.
func (l *Live) retry(ctx context.Context, op backoff.Operation) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = l.cfg.MaxRetryElapsed
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		l.log.Warnw("transient datasource error, retrying", "datasource", l.cfg.Name, "error", err, "wait", wait)
	})
}

// Run drives the fetch-then-subscribe algorithm of spec.md §4.1: pages through
// history while cursor < head, then activates the push subscription.
func (l *Live) Run(ctx context.Context) error {
	for {
		head, err := l.CurrentHeadLevel(ctx)
		if err != nil {
			return err
		}
		if l.cursor >= head {
			break
		}
		levelTo := l.cursor + l.cfg.PageSize
		if levelTo > head {
			levelTo = head
		}
		ops, err := l.FetchOperations(ctx, l.cursor, levelTo)
		if err != nil {
			return err
		}
		bms, err := l.FetchBigMaps(ctx, l.cursor, levelTo)
		if err != nil {
			return err
		}
		l.deliver(ctx, levelTo, ops, bms)
		l.cursor = levelTo + 1

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return l.runRealtime(ctx)
}

// deliver groups ops/diffs by level and pushes one batch per level, preserving
// arrival order.
func (l *Live) deliver(ctx context.Context, upTo int64, ops []models.Operation, diffs []models.BigMapDiff) {
	byLevel := map[int64][]models.Operation{}
	var levels []int64
	for _, op := range ops {
		if _, ok := byLevel[op.Level]; !ok {
			levels = append(levels, op.Level)
		}
		byLevel[op.Level] = append(byLevel[op.Level], op)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	for _, lvl := range levels {
		select {
		case l.opCh <- OperationBatch{Level: lvl, Operations: byLevel[lvl]}:
		case <-ctx.Done():
			return
		}
	}

	bmByLevel := map[int64][]models.BigMapDiff{}
	var bmLevels []int64
	for _, d := range diffs {
		if _, ok := bmByLevel[d.Level]; !ok {
			bmLevels = append(bmLevels, d.Level)
		}
		bmByLevel[d.Level] = append(bmByLevel[d.Level], d)
	}
	sort.Slice(bmLevels, func(i, j int) bool { return bmLevels[i] < bmLevels[j] })
	for _, lvl := range bmLevels {
		select {
		case l.bmCh <- BigMapBatch{Level: lvl, Diffs: bmByLevel[lvl]}:
		case <-ctx.Done():
			return
		}
	}
}

// runRealtime activates the push subscription: buffers pushes for a level until
// a quiescence window elapses with no further message for that level, or a
// message for a later level arrives, then flushes (spec.md §4.1).
func (l *Live) runRealtime(ctx context.Context) error {
	wsURL := toWebsocketURL(l.cfg.BaseURL) + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	type pushMessage struct {
		Type      string          `json:"type"` // "operation" | "bigmap" | "rollback"
		Level     int64           `json:"level"`
		Operation *rawOperation   `json:"operation,omitempty"`
		BigMap    *models.BigMapDiff `json:"bigmap,omitempty"`
		Rollback  *int64          `json:"rollback_level,omitempty"`
	}

	msgCh := make(chan pushMessage, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			var msg pushMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	var pendingLevel int64 = -1
	var pendingOps []models.Operation
	var pendingDiffs []models.BigMapDiff
	timer := time.NewTimer(l.cfg.QuiescenceWindow)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if pendingLevel < 0 {
			return
		}
		if len(pendingOps) > 0 {
			select {
			case l.opCh <- OperationBatch{Level: pendingLevel, Operations: pendingOps}:
			case <-ctx.Done():
			}
		}
		if len(pendingDiffs) > 0 {
			select {
			case l.bmCh <- BigMapBatch{Level: pendingLevel, Diffs: pendingDiffs}:
			case <-ctx.Done():
			}
		}
		l.cursor = pendingLevel
		pendingLevel, pendingOps, pendingDiffs = -1, nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return fmt.Errorf("websocket read: %w", err)
		case <-timer.C:
			flush()
		case msg := <-msgCh:
			if msg.Type == "rollback" && msg.Rollback != nil {
				flush()
				for _, cb := range l.onRB {
					cb(RollbackEvent{Level: *msg.Rollback})
				}
				continue
			}
			if pendingLevel >= 0 && msg.Level != pendingLevel {
				flush()
			}
			pendingLevel = msg.Level
			if msg.Operation != nil {
				key := seenKey(msg.Operation.Hash, msg.Operation.Counter)
				if _, dup := l.seen.Get(key); !dup {
					l.seen.Add(key, struct{}{})
					pendingOps = append(pendingOps, convertOperation(*msg.Operation))
				}
			}
			if msg.BigMap != nil {
				pendingDiffs = append(pendingDiffs, *msg.BigMap)
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.cfg.QuiescenceWindow)
		}
	}
}

func toWebsocketURL(httpURL string) string {
	if len(httpURL) >= 5 && httpURL[:5] == "https" {
		return "wss" + httpURL[5:]
	}
	if len(httpURL) >= 4 && httpURL[:4] == "http" {
		return "ws" + httpURL[4:]
	}
	return httpURL
}
