package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"crypto-etl/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedBatchLimit = 100
	feedSendBuffer = 16
	feedWriteWait  = 10 * time.Second
)

// RunLister is the store side of the run feed. *store.Store satisfies it.
type RunLister interface {
	RunsAfterID(ctx context.Context, afterID uint, limit int) ([]models.Run, error)
	SettledRunID(ctx context.Context) (uint, error)
}

// RunEvent is the message pushed to websocket subscribers when a run finalizes.
type RunEvent struct {
	Type string     `json:"type"`
	Run  models.Run `json:"run"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// RunFeed polls for newly finalized runs and broadcasts them to connected clients.
type RunFeed struct {
	store    RunLister
	interval time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}

	// every run with id <= cursor is terminal and has been handled; sent holds
	// terminal runs above the cursor that were already broadcast.
	pollMu sync.Mutex
	primed bool
	cursor uint
	sent   map[uint]bool
}

func NewRunFeed(st RunLister, interval time.Duration, logger *zap.Logger) *RunFeed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RunFeed{
		store:    st,
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
		sent:    make(map[uint]bool),
	}
}

// Run polls until ctx is cancelled, then closes every client connection.
func (f *RunFeed) Run(ctx context.Context) {
	if err := f.Prime(ctx); err != nil {
		f.logger.Warn("run feed prime failed", zap.Error(err))
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return
		case <-ticker.C:
			if err := f.Poll(ctx); err != nil && ctx.Err() == nil {
				f.logger.Warn("run feed poll failed", zap.Error(err))
			}
		}
	}
}

// Prime positions the cursor at the current state of the run table so runs that
// finished earlier are not broadcast.
func (f *RunFeed) Prime(ctx context.Context) error {
	f.pollMu.Lock()
	defer f.pollMu.Unlock()
	return f.prime(ctx)
}

func (f *RunFeed) prime(ctx context.Context) error {
	settled, err := f.store.SettledRunID(ctx)
	if err != nil {
		return err
	}
	f.cursor = settled
	f.sent = make(map[uint]bool)
	if err := f.scan(ctx, false); err != nil {
		return err
	}
	f.primed = true
	return nil
}

// Poll broadcasts every run that became terminal since the previous poll. An
// unprimed feed only primes.
func (f *RunFeed) Poll(ctx context.Context) error {
	f.pollMu.Lock()
	defer f.pollMu.Unlock()
	if !f.primed {
		return f.prime(ctx)
	}
	return f.scan(ctx, true)
}

// scan walks runs above the cursor in id order. The cursor only moves past a
// contiguous prefix of terminal runs, so a run still in progress is picked up
// once it finishes.
func (f *RunFeed) scan(ctx context.Context, broadcast bool) error {
	after := f.cursor
	contiguous := true
	for {
		runs, err := f.store.RunsAfterID(ctx, after, feedBatchLimit)
		if err != nil {
			return err
		}
		for _, run := range runs {
			after = run.ID
			if !run.Terminal() {
				contiguous = false
				continue
			}
			if !f.sent[run.ID] {
				if broadcast {
					msg, err := json.Marshal(RunEvent{Type: "run_finished", Run: run})
					if err != nil {
						return err
					}
					f.broadcast(msg)
				}
				f.sent[run.ID] = true
			}
			if contiguous {
				f.cursor = run.ID
				delete(f.sent, run.ID)
			}
		}
		if len(runs) < feedBatchLimit {
			return nil
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (f *RunFeed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *RunFeed) ServeWS(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}
	f.mu.Lock()
	f.clients[client] = struct{}{}
	f.mu.Unlock()
	f.logger.Debug("run feed client connected", zap.String("remote", conn.RemoteAddr().String()))

	go f.writeLoop(client)
	f.readLoop(client)
}

// readLoop drains client frames so close and ping control messages are processed.
func (f *RunFeed) readLoop(client *feedClient) {
	defer f.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *RunFeed) writeLoop(client *feedClient) {
	defer client.conn.Close()
	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.logger.Debug("run feed write failed", zap.Error(err))
			f.remove(client)
			return
		}
	}
	client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// broadcast drops clients whose send buffer is full.
func (f *RunFeed) broadcast(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for client := range f.clients {
		select {
		case client.send <- msg:
		default:
			delete(f.clients, client)
			close(client.send)
		}
	}
}

func (f *RunFeed) remove(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[client]; ok {
		delete(f.clients, client)
		close(client.send)
	}
}

func (f *RunFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for client := range f.clients {
		delete(f.clients, client)
		close(client.send)
	}
}
