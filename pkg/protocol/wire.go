// Package protocol implements the newline-delimited JSON wire format:
// one record per line, every record carrying a "type" tag. Client records
// decode into a tagged union; server records encode from typed replies.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxLineLength bounds a single wire record (1 MB).
const MaxLineLength = 1024 * 1024

// ErrMalformedLine indicates a line that is not a JSON object. The server
// treats this as a protocol violation and kills the connection.
var ErrMalformedLine = errors.New("malformed protocol line")

// clientEnvelope is the superset of all client record fields. Integer
// fields use wireInt so numeric strings from older clients still decode.
type clientEnvelope struct {
	Type     string   `json:"type"`
	Key      string   `json:"key"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Current  string   `json:"current"`
	Target   string   `json:"target"`
	Body     string   `json:"body"`
	Title    string   `json:"title"`
	TTL      *wireInt `json:"ttl"`
	Thread   wireInt  `json:"thread"`
}

// DecodeClientLine parses one non-empty line into a client message.
// Unrecognized type tags yield *UnknownRequest, nil: whether that is fatal
// depends on the session's authentication state, which is the caller's
// concern. Valid JSON that is not an object (a bare scalar or array)
// carries no tag and also decodes to *UnknownRequest; only input that is
// not JSON at all is ErrMalformedLine.
func DecodeClientLine(line []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		if json.Valid(line) {
			return &UnknownRequest{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	switch env.Type {
	case TypeKey:
		return &KeyRequest{Key: env.Key}, nil
	case TypeAuth:
		return &AuthRequest{Username: env.Username, Password: env.Password}, nil
	case TypeQuit:
		return &QuitRequest{}, nil
	case TypeUsers:
		return &UsersRequest{}, nil
	case TypeStatus:
		return &StatusRequest{}, nil
	case TypePassword:
		return &PasswordRequest{Current: env.Current, Password: env.Password}, nil
	case TypePubMsg:
		return &PubMsgRequest{Body: env.Body}, nil
	case TypePrivMsg:
		return &PrivMsgRequest{Target: env.Target, Body: env.Body}, nil
	case TypeThreads:
		return &ThreadsRequest{}, nil
	case TypeThread:
		return &ThreadRequest{Thread: int64(env.Thread)}, nil
	case TypeNew:
		req := &NewThreadRequest{Title: env.Title, Body: env.Body}
		if env.TTL != nil {
			req.TTL = int64(*env.TTL)
			req.TTLSet = true
		}
		return req, nil
	case TypeDelete:
		return &DeleteRequest{Thread: int64(env.Thread)}, nil
	case TypePost:
		return &PostRequest{Thread: int64(env.Thread), Body: env.Body}, nil
	default:
		return &UnknownRequest{Tag: env.Type}, nil
	}
}

// EncodeLine encodes a server message as one newline-terminated JSON
// record with the "type" tag spliced in front of the message fields.
func EncodeLine(msg ServerMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(msg.Type())
	if err != nil {
		return nil, err
	}

	// All server messages marshal to objects; splice the tag as the
	// first member.
	out := make([]byte, 0, len(body)+len(tag)+10)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 { // not the empty object
		out = append(out, ',')
		out = append(out, body[1:len(body)-1]...)
	}
	out = append(out, '}', '\n')
	return out, nil
}

// DecodeServerLine parses one server record. It exists for clients and
// tests; the server itself only encodes.
func DecodeServerLine(line []byte) (ServerMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	var msg ServerMessage
	switch env.Type {
	case TypeUser:
		msg = &UserReply{}
	case TypeJoin:
		msg = &JoinReply{}
	case TypeUsers:
		msg = &UsersReply{}
	case TypeStatus:
		msg = &StatusReply{}
	case TypeError:
		msg = &ErrorReply{}
	case TypeNotice:
		msg = &NoticeReply{}
	case TypePubMsg:
		msg = &PubMsgReply{}
	case TypePrivMsg:
		msg = &PrivMsgReply{}
	case TypeQuit:
		msg = &QuitReply{}
	case TypeThreads:
		msg = &ThreadsReply{}
	case TypeThread:
		msg = &ThreadReply{}
	case TypeDelete:
		msg = &DeleteReply{}
	default:
		return nil, fmt.Errorf("unknown server message type %q", env.Type)
	}

	if err := json.Unmarshal(line, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	return msg, nil
}
