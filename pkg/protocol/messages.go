package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Client → server message type tags.
const (
	TypeKey      = "key"
	TypeAuth     = "auth"
	TypeQuit     = "quit"
	TypeUsers    = "users"
	TypeStatus   = "status"
	TypePassword = "password"
	TypePubMsg   = "pubmsg"
	TypePrivMsg  = "privmsg"
	TypeThreads  = "threads"
	TypeThread   = "thread"
	TypeNew      = "new"
	TypeDelete   = "delete"
	TypePost     = "post"
)

// Server → client message type tags.
const (
	TypeUser   = "user"
	TypeJoin   = "join"
	TypeError  = "error"
	TypeNotice = "notice"
)

// ClientMessage is the decoded form of one inbound record. Decoding is a
// tagged-union switch on the "type" field; records with an unrecognized tag
// decode to *UnknownRequest rather than failing, because the dispatcher
// treats unknown tags differently depending on authentication state.
type ClientMessage interface {
	// Type returns the wire tag of the message.
	Type() string
}

// KeyRequest redeems a session key on a fresh connection.
type KeyRequest struct {
	Key string `json:"key"`
}

// AuthRequest carries a username/password pair on the single-shot
// password connection.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// QuitRequest asks the server to terminate the session.
type QuitRequest struct{}

// UsersRequest asks for the connected-user roster.
type UsersRequest struct{}

// StatusRequest asks for server uptime and user count.
type StatusRequest struct{}

// PasswordRequest changes the caller's password.
type PasswordRequest struct {
	Current  string `json:"current"`
	Password string `json:"password"`
}

// PubMsgRequest broadcasts a chat line to everyone else.
type PubMsgRequest struct {
	Body string `json:"body"`
}

// PrivMsgRequest sends a chat line to one user.
type PrivMsgRequest struct {
	Target string `json:"target"`
	Body   string `json:"body"`
}

// ThreadsRequest lists board threads.
type ThreadsRequest struct{}

// ThreadRequest fetches one thread by id.
type ThreadRequest struct {
	Thread int64 `json:"thread"`
}

// NewThreadRequest creates a thread. TTLSet distinguishes an absent ttl
// field from an explicit zero.
type NewThreadRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	TTL    int64  `json:"ttl"`
	TTLSet bool   `json:"-"`
}

// DeleteRequest deletes a thread owned by the caller.
type DeleteRequest struct {
	Thread int64 `json:"thread"`
}

// PostRequest appends a post to a thread.
type PostRequest struct {
	Thread int64  `json:"thread"`
	Body   string `json:"body"`
}

// UnknownRequest is any well-formed record whose tag is not in the
// dispatch table.
type UnknownRequest struct {
	Tag string
}

func (*KeyRequest) Type() string       { return TypeKey }
func (*AuthRequest) Type() string      { return TypeAuth }
func (*QuitRequest) Type() string      { return TypeQuit }
func (*UsersRequest) Type() string     { return TypeUsers }
func (*StatusRequest) Type() string    { return TypeStatus }
func (*PasswordRequest) Type() string  { return TypePassword }
func (*PubMsgRequest) Type() string    { return TypePubMsg }
func (*PrivMsgRequest) Type() string   { return TypePrivMsg }
func (*ThreadsRequest) Type() string   { return TypeThreads }
func (*ThreadRequest) Type() string    { return TypeThread }
func (*NewThreadRequest) Type() string { return TypeNew }
func (*DeleteRequest) Type() string    { return TypeDelete }
func (*PostRequest) Type() string      { return TypePost }
func (m *UnknownRequest) Type() string { return m.Tag }

// ServerMessage is any outbound reply or broadcast record.
type ServerMessage interface {
	// Type returns the wire tag written into the encoded record.
	Type() string
}

// UserReply tells a freshly authenticated client its resolved identity.
type UserReply struct {
	Username string `json:"username"`
}

// JoinReply announces a user joining (sent to the joiner and broadcast).
type JoinReply struct {
	Nick string `json:"nick"`
}

// UsersReply maps each connected username to its session count.
type UsersReply struct {
	Users map[string]int `json:"users"`
}

// StatusReply reports uptime in whole seconds and the live session count.
type StatusReply struct {
	Uptime int64 `json:"uptime"`
	Users  int   `json:"users"`
}

// ErrorReply reports a recoverable failure to the caller.
type ErrorReply struct {
	Body string `json:"body"`
}

// NoticeReply carries an informational line (password-change outcomes).
type NoticeReply struct {
	Body string `json:"body"`
}

// PubMsgReply is a public chat line fanned out to other sessions.
type PubMsgReply struct {
	Nick string `json:"nick"`
	Body string `json:"body"`
}

// PrivMsgReply is a direct chat line delivered to one session.
type PrivMsgReply struct {
	Nick string `json:"nick"`
	Body string `json:"body"`
}

// QuitReply announces a session leaving, with the kill reason.
type QuitReply struct {
	Nick string `json:"nick"`
	Body string `json:"body"`
}

// ThreadsReply carries the full thread listing.
type ThreadsReply struct {
	Body []*Thread `json:"body"`
}

// ThreadReply carries one full thread.
type ThreadReply struct {
	Body *Thread `json:"body"`
}

// DeleteReply confirms a thread deletion.
type DeleteReply struct {
	Body string `json:"body"`
}

func (*UserReply) Type() string    { return TypeUser }
func (*JoinReply) Type() string    { return TypeJoin }
func (*UsersReply) Type() string   { return TypeUsers }
func (*StatusReply) Type() string  { return TypeStatus }
func (*ErrorReply) Type() string   { return TypeError }
func (*NoticeReply) Type() string  { return TypeNotice }
func (*PubMsgReply) Type() string  { return TypePubMsg }
func (*PrivMsgReply) Type() string { return TypePrivMsg }
func (*QuitReply) Type() string    { return TypeQuit }
func (*ThreadsReply) Type() string { return TypeThreads }
func (*ThreadReply) Type() string  { return TypeThread }
func (*DeleteReply) Type() string  { return TypeDelete }

// Thread is the wire representation of a board thread. The board stores
// these directly; there is no separate storage model.
type Thread struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	TTL      int64  `json:"ttl"`     // advisory lifetime in milliseconds
	Created  int64  `json:"created"` // unix milliseconds
	Messages []Post `json:"messages"`
}

// Post is one reply inside a thread. Posts are append-only.
type Post struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Remaining returns the thread's remaining TTL in milliseconds at the
// given instant. Negative values mean the thread has nominally expired;
// expiry is cosmetic and never enforced server-side.
func (t *Thread) Remaining(nowMillis int64) int64 {
	return t.TTL - (nowMillis - t.Created)
}

// wireInt decodes an integer that clients may send as a JSON number or a
// numeric string. Unparseable strings decode to zero so that validation
// happens in the handler, not the codec.
type wireInt int64

func (w *wireInt) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			*w = 0
			return nil
		}
		*w = wireInt(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*w = wireInt(f)
	return nil
}
