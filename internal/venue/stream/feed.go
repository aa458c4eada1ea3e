package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"hedge-volume/internal/core"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	readTimeout    = 90 * time.Second
)

// Feed keeps a live top-of-book snapshot for one symbol over a websocket
// depth stream, reconnecting with capped backoff when the connection drops.
type Feed struct {
	url    string
	symbol string
	topic  string

	mu      sync.RWMutex
	book    core.OrderBook
	haveOne bool

	log *logrus.Entry
}

type depthMessage struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
	// Combined-stream envelopes nest the payload under data.
	Data *depthMessage `json:"data,omitempty"`
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// NewFeed builds a feed for the given ws endpoint and native symbol. The
// subscription topic follows the <symbol>@depth<N> convention.
func NewFeed(url, symbol string, depth int) *Feed {
	if depth <= 0 {
		depth = 5
	}
	topic := strings.ToLower(strings.NewReplacer("/", "", ":", "").Replace(symbol))
	return &Feed{
		url:    url,
		symbol: symbol,
		topic:  topic + "@depth" + strconv.Itoa(depth),
		log: logrus.WithFields(logrus.Fields{
			"component": "stream",
			"symbol":    symbol,
		}),
	}
}

// Run blocks until ctx is canceled, maintaining the connection and the
// latest snapshot.
func (f *Feed) Run(ctx context.Context) {
	backoff := initialBackoff
	for ctx.Err() == nil {
		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		f.log.Warnf("stream disconnected: %v, reconnecting in %s", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (f *Feed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := subscribeRequest{Method: "SUBSCRIBE", Params: []string{f.topic}, ID: 1}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	// Unblock the read loop when ctx is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg depthMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			f.log.Debugf("skipping unparseable frame: %v", err)
			continue
		}
		if msg.Data != nil {
			msg = *msg.Data
		}
		if len(msg.Bids) == 0 && len(msg.Asks) == 0 {
			continue
		}
		f.store(msg)
	}
}

func (f *Feed) store(msg depthMessage) {
	book := core.OrderBook{
		Symbol:    f.symbol,
		Bids:      parseLevels(msg.Bids),
		Asks:      parseLevels(msg.Asks),
		Timestamp: time.Now().UTC(),
	}
	f.mu.Lock()
	f.book = book
	f.haveOne = true
	f.mu.Unlock()
}

func parseLevels(raw [][]string) []core.Level {
	out := make([]core.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			continue
		}
		out = append(out, core.Level{Price: price, Qty: qty})
	}
	return out
}

// Snapshot returns the latest book and whether one has arrived yet.
func (f *Feed) Snapshot() (core.OrderBook, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.book, f.haveOne
}
