package consensus

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vireonet/vireo/pkg/dbft/block"
)

// Notifier fans a finalized block out to subscribed websocket clients.
// The P2P gossip layer and the RPC/admin interface both live outside
// this repository; this is the thin boundary the core's ProcessBlock
// callback crosses to reach them.
type Notifier struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewNotifier returns an empty Notifier ready to accept subscribers.
func NewNotifier() *Notifier {
	return &Notifier{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and registers it as a subscriber
// until it disconnects.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	n.mu.Lock()
	n.clients[conn] = struct{}{}
	n.mu.Unlock()

	go n.drain(conn)
}

// drain discards inbound frames (this is a push-only feed) until the
// client disconnects, then unregisters it.
func (n *Notifier) drain(conn *websocket.Conn) {
	defer func() {
		n.mu.Lock()
		delete(n.clients, conn)
		n.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type blockNotification struct {
	Height uint32 `json:"height"`
	Hash   string `json:"hash"`
	TxSize int    `json:"tx_count"`
}

// NotifyBlock pushes b to every subscribed client, dropping any that
// fail to write (they'll be pruned on their next failed read).
func (n *Notifier) NotifyBlock(b block.Block) {
	msg, err := json.Marshal(blockNotification{
		Height: b.Index(),
		Hash:   b.Hash().String(),
		TxSize: len(b.Transactions()),
	})
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for c := range n.clients {
		_ = c.WriteMessage(websocket.TextMessage, msg)
	}
}
