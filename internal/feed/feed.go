// Package feed broadcasts readings to websocket clients as they arrive from the device.
// Slow clients lose messages, Publish never blocks.
package feed

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/temoto/sensorgate/frame"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/log2"
)

const (
	ClientBuffer = 16
	WriteTimeout = 10 * time.Second
)

type Feed struct {
	sensor   string
	log      *log2.Log
	upgrader websocket.Upgrader
	dropped  uint64

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func New(sensor string, log *log2.Log) *Feed {
	return &Feed{
		sensor:   sensor,
		log:      log.Prefixed("feed: "),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*client]struct{}),
	}
}

// Publish sends reading as sink payload JSON to every client.
func (self *Feed) Publish(r frame.Reading) {
	b, err := sink.NewPayload(r, self.sensor).Marshal()
	if err != nil {
		self.log.Error(err)
		return
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	for c := range self.clients {
		select {
		case c.send <- b:
		default:
			atomic.AddUint64(&self.dropped, 1)
		}
	}
}

func (self *Feed) Clients() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.clients)
}

func (self *Feed) Dropped() uint64 { return atomic.LoadUint64(&self.dropped) }

// ServeHTTP upgrades request and writes messages until client goes away.
func (self *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already replied with http error
		self.log.Debugf("upgrade remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, ClientBuffer)}
	self.mu.Lock()
	self.clients[c] = struct{}{}
	self.mu.Unlock()
	self.log.Debugf("client connected remote=%s", r.RemoteAddr)

	go self.readLoop(c)
	for b := range c.send {
		_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			self.log.Debugf("write remote=%s err=%v", r.RemoteAddr, err)
			self.remove(c)
			break
		}
	}
	_ = conn.Close()
}

// readLoop discards client messages, read error means client is gone.
func (self *Feed) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			self.remove(c)
			return
		}
	}
}

func (self *Feed) remove(c *client) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if _, ok := self.clients[c]; ok {
		delete(self.clients, c)
		close(c.send)
	}
}

// Close disconnects all clients.
func (self *Feed) Close() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for c := range self.clients {
		delete(self.clients, c)
		close(c.send)
	}
}
