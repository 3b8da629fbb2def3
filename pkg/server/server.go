package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftline/driftboard/pkg/credstore"
	"github.com/driftline/driftboard/pkg/protocol"
)

var (
	errorLog *log.Logger
	debugLog *log.Logger
)

// operatorIdentity is the username bound to the reserved operator key.
const operatorIdentity = "DEBUG-OPER"

// Server owns all mutable session state: the key registry, the session
// registry and the thread board. Handlers receive it explicitly; there is
// no package-level state beyond the loggers.
type Server struct {
	config   ServerConfig
	creds    *credstore.Store
	keys     *KeyRegistry
	sessions *SessionRegistry
	board    *Board

	listener  net.Listener
	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	metrics   *Metrics
	startTime time.Time

	nextSessionID atomic.Uint64

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// NewServer creates a new server instance.
func NewServer(config ServerConfig) (*Server, error) {
	initLoggers()

	metrics := NewMetrics()
	sessions := NewSessionRegistry()
	sessions.SetMetrics(metrics)
	keys := NewKeyRegistry()
	keys.SetMetrics(metrics)
	board := NewBoard(config.MaxTitleLength)
	board.SetMetrics(metrics)

	return &Server{
		config:    config,
		creds:     credstore.New(config.CredentialDBPath, config.LockFilePath),
		keys:      keys,
		sessions:  sessions,
		board:     board,
		shutdown:  make(chan struct{}),
		metrics:   metrics,
		startTime: time.Now(),
	}, nil
}

// initLoggers sets up the error and debug loggers unless a test already
// installed its own.
func initLoggers() {
	if errorLog == nil {
		errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	}
	if debugLog == nil {
		debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	}
}

// EnableDebugLogging turns on per-message debug logging to stderr.
func (s *Server) EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Start starts the TCP listener and the auxiliary HTTP listeners.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener
	log.Printf("Listening on %s", listener.Addr())

	// Internal metrics server - never expose publicly
	if s.config.MetricsPort > 0 {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", s.metrics.Handler())
			metricsMux.HandleFunc("/health", s.HealthHandler)
			addr := fmt.Sprintf(":%d", s.config.MetricsPort)
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", addr)
			if err := http.ListenAndServe(addr, metricsMux); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Optional WebSocket bridge carrying the same line protocol
	if s.config.HTTPPort > 0 {
		go func() {
			wsMux := http.NewServeMux()
			wsMux.HandleFunc("/ws", s.HandleWebSocket)
			addr := fmt.Sprintf(":%d", s.config.HTTPPort)
			log.Printf("WebSocket bridge listening on %s (/ws)", addr)
			if err := http.ListenAndServe(addr, wsMux); err != nil {
				log.Printf("WebSocket bridge error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the address the TCP listener is bound to. Useful when the
// configured port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server. Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		log.Println("Graceful shutdown initiated...")

		close(s.shutdown)

		// Close but never nil the field: acceptLoop still reads it
		if s.listener != nil {
			s.listener.Close()
			log.Println("TCP listener closed")
		}

		// Best-effort shutdown notice before the sockets go away
		s.notifyClientsOfShutdown()

		log.Println("Closing all client sessions...")
		s.sessions.CloseAll()

		s.wg.Wait()
		log.Println("Graceful shutdown complete")
	})
	return nil
}

// notifyClientsOfShutdown sends a notice record to all connected clients.
func (s *Server) notifyClientsOfShutdown() {
	sessions := s.sessions.All()
	if len(sessions) == 0 {
		return
	}

	line, err := protocol.EncodeLine(&protocol.NoticeReply{Body: "Server shutting down."})
	if err != nil {
		return
	}

	sent := 0
	for _, sess := range sessions {
		if sess.Conn.WriteLine(line) == nil {
			sent++
		}
	}
	log.Printf("Shutdown notification sent to %d/%d sessions", sent, len(sessions))
}

// HealthHandler reports liveness plus a few cheap gauges.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime":%d,"sessions":%d,"threads":%d}`,
		int64(time.Since(s.startTime).Seconds()), s.sessions.Count(), s.board.Len())
	fmt.Fprintln(w)
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// handleConnection sets up a session for a raw TCP connection and runs
// its message loop until the socket dies.
func (s *Server) handleConnection(conn net.Conn) {
	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := NewSession(s.nextSessionID.Add(1), NewLineConn(conn))
	s.metrics.RecordConnection()
	s.connectionsSinceReport.Add(1)
	debugLog.Printf("New connection from %s (session %d)", sess.RemoteAddr, sess.ID)

	s.messageLoop(sess, conn)
}

// messageLoop reads newline-delimited records off the connection and
// dispatches each one. Any unparsable line is a protocol violation that
// kills the connection.
func (s *Server) messageLoop(sess *Session, conn net.Conn) {
	defer func() {
		s.metrics.RecordDisconnect()
		s.disconnectionsSinceReport.Add(1)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxLineLength)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.DecodeClientLine(line)
		if err != nil {
			errorLog.Printf("Session %d: unable to parse message: %v", sess.ID, err)
			s.kill(sess, "Killed: indecent hacking")
			return
		}

		debugLog.Printf("Session %d ← RECV: type=%s", sess.ID, msg.Type())
		s.metrics.RecordMessageReceived(msg.Type())

		if err := s.dispatch(sess, msg); err != nil {
			if errors.Is(err, ErrClientDisconnecting) {
				debugLog.Printf("Session %d disconnected (%s)", sess.ID, sess.State())
				return
			}
			errorLog.Printf("Session %d handle error: %v", sess.ID, err)
		}
	}

	// EOF or read error: implicit quit
	debugLog.Printf("Session %d: connection terminated (%s, user=%q)", sess.ID, sess.State(), sess.Username())
	s.kill(sess, "Connection terminated")
}

// dispatch validates a message against the session's authentication state
// and routes it. Unknown types from an authenticated session are ignored;
// anything unexpected from an unauthenticated one is fatal.
func (s *Server) dispatch(sess *Session, msg protocol.ClientMessage) error {
	if !sess.Authenticated() {
		return s.handleUnauthenticated(sess, msg)
	}

	switch m := msg.(type) {
	case *protocol.QuitRequest:
		return s.handleQuit(sess)
	case *protocol.UsersRequest:
		return s.handleUsers(sess)
	case *protocol.StatusRequest:
		return s.handleStatus(sess)
	case *protocol.PasswordRequest:
		return s.handleChangePassword(sess, m)
	case *protocol.PubMsgRequest:
		return s.handlePubMsg(sess, m)
	case *protocol.PrivMsgRequest:
		return s.handlePrivMsg(sess, m)
	case *protocol.ThreadsRequest:
		return s.handleListThreads(sess)
	case *protocol.ThreadRequest:
		return s.handleGetThread(sess, m)
	case *protocol.NewThreadRequest:
		return s.handleNewThread(sess, m)
	case *protocol.DeleteRequest:
		return s.handleDeleteThread(sess, m)
	case *protocol.PostRequest:
		return s.handlePost(sess, m)
	default:
		// Unknown (and re-sent handshake) types are ignored once
		// authenticated.
		return nil
	}
}

// kill closes the connection, removes the session from the registry, and
// announces the departure to the remaining sessions if the victim was
// authenticated. Safe to call more than once.
func (s *Server) kill(sess *Session, reason string) {
	sess.Conn.Close()

	found := s.sessions.Remove(sess)
	wasAuthed := sess.Authenticated()
	username := sess.Username()
	sess.clearAuth()

	if found && wasAuthed {
		if reason == "" {
			reason = "Killed for no reason"
		}
		s.broadcast(sess, &protocol.QuitReply{Nick: username, Body: reason})
	}
}

// sendMessage encodes and writes one record to a session. Write failures
// are logged, not surfaced: delivery is best-effort and the reader loop
// notices a dead socket on its own.
func (s *Server) sendMessage(sess *Session, msg protocol.ServerMessage) {
	line, err := protocol.EncodeLine(msg)
	if err != nil {
		errorLog.Printf("Session %d: encode %s failed: %v", sess.ID, msg.Type(), err)
		return
	}

	debugLog.Printf("Session %d → SEND: type=%s len=%d", sess.ID, msg.Type(), len(line))
	s.metrics.RecordMessageSent(msg.Type())
	if err := sess.Conn.WriteLine(line); err != nil {
		errorLog.Printf("Session %d: write %s failed: %v", sess.ID, msg.Type(), err)
	}
}

// broadcast fans a record out to every registered session except from.
// Fire-and-forget: one dead recipient does not affect the others and the
// sender never hears about it.
func (s *Server) broadcast(from *Session, msg protocol.ServerMessage) {
	targets := s.sessions.All()
	if len(targets) == 0 {
		debugLog.Print("No clients, no broadcast")
		return
	}

	line, err := protocol.EncodeLine(msg)
	if err != nil {
		errorLog.Printf("broadcast: encode %s failed: %v", msg.Type(), err)
		return
	}

	delivered := 0
	for _, target := range targets {
		if target == from {
			continue
		}
		s.metrics.RecordMessageSent(msg.Type())
		if target.Conn.WriteLine(line) == nil {
			delivered++
		}
	}
	s.metrics.RecordBroadcast(delivered)
}

// metricsLoggingLoop periodically logs key counters.
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			log.Printf("[METRICS] Active sessions: %d, pending keys: %d, threads: %d, connected since last: %d, disconnected since last: %d",
				s.sessions.Count(), s.keys.Len(), s.board.Len(), connected, disconnected)
		}
	}
}
