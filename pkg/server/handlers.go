package server

import (
	"errors"
	"time"

	"github.com/driftline/driftboard/pkg/credstore"
	"github.com/driftline/driftboard/pkg/protocol"
)

// ErrClientDisconnecting is returned by handlers that have terminated the
// connection; the message loop exits without further reads.
var ErrClientDisconnecting = errors.New("client disconnecting")

// handleUnauthenticated routes the first message on a fresh connection.
// Only key redemption and password auth are allowed here; anything else
// is fatal.
func (s *Server) handleUnauthenticated(sess *Session, msg protocol.ClientMessage) error {
	sess.SetState(StateNoAuth)

	switch m := msg.(type) {
	case *protocol.KeyRequest:
		return s.handleKeyAuth(sess, m)
	case *protocol.AuthRequest:
		return s.handlePasswordAuth(sess, m)
	default:
		errorLog.Printf("Session %d: unauthenticated client tried to use API (type=%q)", sess.ID, msg.Type())
		s.kill(sess, "")
		return ErrClientDisconnecting
	}
}

// handleKeyAuth redeems a session key: the fast path taken by the
// interactive connection the gateway opens after password auth. Keys are
// single-use; the reserved operator key is always valid.
func (s *Server) handleKeyAuth(sess *Session, m *protocol.KeyRequest) error {
	username := ""
	switch {
	case m.Key == "":
		// fall through to failure
	case s.config.OperatorKey != "" && m.Key == s.config.OperatorKey:
		username = operatorIdentity
	default:
		if u, ok := s.keys.Redeem(m.Key); ok {
			username = u
		}
	}

	if username == "" {
		errorLog.Printf("Session %d: auth fail (unknown key)", sess.ID)
		s.metrics.RecordAuthAttempt("key", "failure")
		s.kill(sess, "")
		return ErrClientDisconnecting
	}

	sess.Authenticate(username, m.Key)
	s.sessions.Add(sess)
	s.metrics.RecordAuthAttempt("key", "success")
	debugLog.Printf("Session %d: logon %s", sess.ID, username)

	s.sendMessage(sess, &protocol.UserReply{Username: username})
	s.sendMessage(sess, &protocol.JoinReply{Nick: username})
	s.sendStatus(sess)
	s.broadcast(sess, &protocol.JoinReply{Nick: username})
	return nil
}

// handlePasswordAuth is the slow path: verify credentials through the
// gateway, mint a one-time key, write the bare key to the socket and
// close it. The password channel is single-shot; a new connection must
// redeem the key within the key window.
func (s *Server) handlePasswordAuth(sess *Session, m *protocol.AuthRequest) error {
	if m.Username == "" || m.Password == "" {
		errorLog.Printf("Session %d: unauthenticated client tried to use API (empty credentials)", sess.ID)
		s.kill(sess, "")
		return ErrClientDisconnecting
	}

	// The gateway completes through a single-shot channel; receiving
	// here suspends only this connection's goroutine.
	if err := <-s.creds.Verify(m.Username, m.Password); err != nil {
		errorLog.Printf("Session %d: failed auth attempt for user %s: %v", sess.ID, m.Username, err)
		s.metrics.RecordAuthAttempt("password", "failure")
		s.kill(sess, "")
		return ErrClientDisconnecting
	}

	sess.SetState(StateWaitKey)
	key := s.keys.Mint(m.Username)
	s.metrics.RecordAuthAttempt("password", "success")

	// Protocol special case: the raw key value, not a structured
	// record, goes to the password connection.
	if err := sess.Conn.WriteRaw([]byte(key)); err != nil {
		errorLog.Printf("Session %d: failed to write key: %v", sess.ID, err)
	}
	sess.Conn.Close()

	s.scheduleKeyExpiry(sess, key, m.Username)
	return ErrClientDisconnecting
}

// scheduleKeyExpiry discards the key after the key window if no session
// for its username has appeared. Best-effort cleanup: a session under the
// same username from an earlier login keeps the key alive.
func (s *Server) scheduleKeyExpiry(sess *Session, key, username string) {
	time.AfterFunc(s.config.KeyWindow, func() {
		sess.SetState(StateKeyTimeout)
		if _, ok := s.sessions.FindByUsername(username); ok {
			return
		}
		if s.keys.Discard(key) {
			errorLog.Printf("Connection for key %s… timed out", key[:4])
			s.metrics.RecordAuthAttempt("key", "timeout")
		}
	})
}

func (s *Server) handleQuit(sess *Session) error {
	s.kill(sess, "Quit")
	return ErrClientDisconnecting
}

func (s *Server) handleUsers(sess *Session) error {
	s.sendMessage(sess, &protocol.UsersReply{Users: s.sessions.DuplicateCounts()})
	return nil
}

func (s *Server) handleStatus(sess *Session) error {
	s.sendStatus(sess)
	return nil
}

func (s *Server) sendStatus(sess *Session) {
	s.sendMessage(sess, &protocol.StatusReply{
		Uptime: int64(time.Since(s.startTime).Seconds()),
		Users:  s.sessions.Count(),
	})
}

// handleChangePassword delegates to the credential gateway, mapping its
// typed errors onto the notice strings clients display. All failures are
// recoverable; the connection stays open.
func (s *Server) handleChangePassword(sess *Session, m *protocol.PasswordRequest) error {
	fail := func(message string) error {
		s.sendMessage(sess, &protocol.NoticeReply{Body: message})
		return nil
	}

	if m.Current == "" || m.Password == "" {
		return fail("Malformed password change request.")
	}
	if len(m.Password) < s.config.MinPasswordLength {
		return fail("Unable to change password: password is too short.")
	}

	err := <-s.creds.ChangePassword(sess.Username(), m.Current, m.Password)
	switch {
	case err == nil:
		return fail("Password changed.")
	case errors.Is(err, credstore.ErrStoreBusy):
		errorLog.Printf("Session %d: password change failed due to DB lock", sess.ID)
		return fail("Unable to change password (database locked).")
	case errors.Is(err, credstore.ErrNoSuchUser):
		return fail("Unable to change password: no such user.")
	case errors.Is(err, credstore.ErrBadCredentials):
		return fail("Unable to change password: current password not correct.")
	default:
		errorLog.Printf("Session %d: password change failed: %v", sess.ID, err)
		return fail("Unable to change password (database I/O error).")
	}
}

func (s *Server) handlePubMsg(sess *Session, m *protocol.PubMsgRequest) error {
	s.broadcast(sess, &protocol.PubMsgReply{Nick: sess.Username(), Body: m.Body})
	return nil
}

func (s *Server) handlePrivMsg(sess *Session, m *protocol.PrivMsgRequest) error {
	if m.Target == "" {
		return nil
	}

	target, ok := s.sessions.FindByUsername(m.Target)
	if !ok {
		s.sendMessage(sess, &protocol.ErrorReply{Body: "No such user"})
		return nil
	}
	s.sendMessage(target, &protocol.PrivMsgReply{Nick: sess.Username(), Body: m.Body})
	return nil
}

func (s *Server) handleListThreads(sess *Session) error {
	s.sendMessage(sess, &protocol.ThreadsReply{Body: s.board.List()})
	return nil
}

func (s *Server) handleGetThread(sess *Session, m *protocol.ThreadRequest) error {
	thread, ok := s.board.Get(m.Thread)
	if !ok {
		s.sendMessage(sess, &protocol.ErrorReply{Body: "No such thread"})
		return nil
	}
	s.sendMessage(sess, &protocol.ThreadReply{Body: thread})
	return nil
}

func (s *Server) handleNewThread(sess *Session, m *protocol.NewThreadRequest) error {
	if m.Title == "" || m.Body == "" || !m.TTLSet || m.TTL == 0 {
		s.sendMessage(sess, &protocol.ErrorReply{Body: "Cannot create thread: invalid parameters"})
		return nil
	}

	thread, err := s.board.Create(sess.Username(), m.Title, m.Body, m.TTL)
	if err != nil {
		s.sendMessage(sess, &protocol.ErrorReply{Body: "Could not create thread"})
		return nil
	}

	debugLog.Printf("Session %d: new thread %d %q (ttl=%dms)", sess.ID, thread.ID, titlePreview(thread.Title), thread.TTL)
	s.sendMessage(sess, &protocol.ThreadReply{Body: thread})
	return nil
}

func (s *Server) handleDeleteThread(sess *Session, m *protocol.DeleteRequest) error {
	switch err := s.board.Delete(m.Thread, sess.Username()); {
	case err == nil:
		s.sendMessage(sess, &protocol.DeleteReply{Body: "Thread deleted"})
	case errors.Is(err, ErrNotOwner):
		s.sendMessage(sess, &protocol.ErrorReply{Body: "Cannot delete thread: no privileges"})
	default:
		s.sendMessage(sess, &protocol.ErrorReply{Body: "No such thread"})
	}
	return nil
}

func (s *Server) handlePost(sess *Session, m *protocol.PostRequest) error {
	if m.Body == "" {
		s.sendMessage(sess, &protocol.ErrorReply{Body: "No such thread"})
		return nil
	}

	thread, err := s.board.Post(m.Thread, sess.Username(), m.Body)
	switch {
	case err == nil:
		s.sendMessage(sess, &protocol.ThreadReply{Body: thread})
	case errors.Is(err, ErrEmptyPost):
		s.sendMessage(sess, &protocol.ErrorReply{Body: "Cannot post to thread"})
	default:
		s.sendMessage(sess, &protocol.ErrorReply{Body: "No such thread"})
	}
	return nil
}
