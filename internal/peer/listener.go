package peer

import (
	"net"

	"go.uber.org/zap"
)

// Listener accepts inbound peer connections and turns each into a Link,
// registering it into table once the remote side has identified itself.
type Listener struct {
	ln          net.Listener
	localNodeID string
	localAddr   string
	handler     Handler
	table       *Table
	logger      *zap.Logger
}

// NewListener binds bindAddr and returns a Listener ready to Serve.
func NewListener(bindAddr, localNodeID string, handler Handler, table *Table, logger *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:          ln,
		localNodeID: localNodeID,
		localAddr:   bindAddr,
		handler:     handler,
		table:       table,
		logger:      logger,
	}, nil
}

// Addr returns the listener's bound network address.
func (s *Listener) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the listener is closed, spawning one Link
// per accepted connection. It returns the error that stopped the loop (nil
// after a clean Close).
func (s *Listener) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		l := NewLink(conn, s.localNodeID, s.handler, s.logger)
		l.OnIdentified(func(link *Link) {
			s.table.Set(link.RemoteNodeID(), link)
			link.MarkLive()
			s.logger.Info("peer identified inbound",
				zap.String("remote_node_id", link.RemoteNodeID()),
				zap.String("remote_address", link.RemoteAddress()))
		})
	}
}

// Close stops accepting new connections.
func (s *Listener) Close() error { return s.ln.Close() }
