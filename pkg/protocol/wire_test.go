package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want ClientMessage
	}{
		{
			name: "key redemption",
			line: `{"type":"key","key":"abcd1234"}`,
			want: &KeyRequest{Key: "abcd1234"},
		},
		{
			name: "password auth",
			line: `{"type":"auth","username":"bob","password":"correct"}`,
			want: &AuthRequest{Username: "bob", Password: "correct"},
		},
		{
			name: "quit",
			line: `{"type":"quit"}`,
			want: &QuitRequest{},
		},
		{
			name: "users",
			line: `{"type":"users"}`,
			want: &UsersRequest{},
		},
		{
			name: "status",
			line: `{"type":"status"}`,
			want: &StatusRequest{},
		},
		{
			name: "password change",
			line: `{"type":"password","current":"old","password":"newpassword"}`,
			want: &PasswordRequest{Current: "old", Password: "newpassword"},
		},
		{
			name: "public message",
			line: `{"type":"pubmsg","body":"hello all"}`,
			want: &PubMsgRequest{Body: "hello all"},
		},
		{
			name: "private message",
			line: `{"type":"privmsg","target":"eve","body":"psst"}`,
			want: &PrivMsgRequest{Target: "eve", Body: "psst"},
		},
		{
			name: "thread listing",
			line: `{"type":"threads"}`,
			want: &ThreadsRequest{},
		},
		{
			name: "thread fetch",
			line: `{"type":"thread","thread":7}`,
			want: &ThreadRequest{Thread: 7},
		},
		{
			name: "thread fetch with string id",
			line: `{"type":"thread","thread":"7"}`,
			want: &ThreadRequest{Thread: 7},
		},
		{
			name: "new thread",
			line: `{"type":"new","title":"Hi","body":"World","ttl":60000}`,
			want: &NewThreadRequest{Title: "Hi", Body: "World", TTL: 60000, TTLSet: true},
		},
		{
			name: "new thread with string ttl",
			line: `{"type":"new","title":"Hi","body":"World","ttl":"60000"}`,
			want: &NewThreadRequest{Title: "Hi", Body: "World", TTL: 60000, TTLSet: true},
		},
		{
			name: "new thread with garbage ttl decodes to zero",
			line: `{"type":"new","title":"Hi","body":"World","ttl":"soon"}`,
			want: &NewThreadRequest{Title: "Hi", Body: "World", TTL: 0, TTLSet: true},
		},
		{
			name: "new thread without ttl",
			line: `{"type":"new","title":"Hi","body":"World"}`,
			want: &NewThreadRequest{Title: "Hi", Body: "World", TTLSet: false},
		},
		{
			name: "delete",
			line: `{"type":"delete","thread":3}`,
			want: &DeleteRequest{Thread: 3},
		},
		{
			name: "post",
			line: `{"type":"post","thread":3,"body":"me too"}`,
			want: &PostRequest{Thread: 3, Body: "me too"},
		},
		{
			name: "unknown tag",
			line: `{"type":"dance","tempo":"presto"}`,
			want: &UnknownRequest{Tag: "dance"},
		},
		{
			name: "missing tag",
			line: `{"body":"anonymous"}`,
			want: &UnknownRequest{Tag: ""},
		},
		{
			name: "bare scalar",
			line: `123`,
			want: &UnknownRequest{Tag: ""},
		},
		{
			name: "bare string",
			line: `"a bare string"`,
			want: &UnknownRequest{Tag: ""},
		},
		{
			name: "bare array",
			line: `[1,2,3]`,
			want: &UnknownRequest{Tag: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientLine([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeClientLineMalformed(t *testing.T) {
	lines := []string{
		`{"type":"users"`,
		`not json at all`,
		`{"type":}`,
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := DecodeClientLine([]byte(line))
			require.ErrorIs(t, err, ErrMalformedLine)
		})
	}
}

func TestEncodeLine(t *testing.T) {
	tests := []struct {
		name string
		msg  ServerMessage
		want string
	}{
		{
			name: "user",
			msg:  &UserReply{Username: "bob"},
			want: `{"type":"user","username":"bob"}` + "\n",
		},
		{
			name: "join",
			msg:  &JoinReply{Nick: "bob"},
			want: `{"type":"join","nick":"bob"}` + "\n",
		},
		{
			name: "error",
			msg:  &ErrorReply{Body: "No such user"},
			want: `{"type":"error","body":"No such user"}` + "\n",
		},
		{
			name: "status",
			msg:  &StatusReply{Uptime: 42, Users: 3},
			want: `{"type":"status","uptime":42,"users":3}` + "\n",
		},
		{
			name: "users with counts",
			msg:  &UsersReply{Users: map[string]int{"alice": 1, "bob": 2}},
			want: `{"type":"users","users":{"alice":1,"bob":2}}` + "\n",
		},
		{
			name: "pubmsg",
			msg:  &PubMsgReply{Nick: "bob", Body: "hi"},
			want: `{"type":"pubmsg","nick":"bob","body":"hi"}` + "\n",
		},
		{
			name: "delete",
			msg:  &DeleteReply{Body: "Thread deleted"},
			want: `{"type":"delete","body":"Thread deleted"}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeLine(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	messages := []ServerMessage{
		&UserReply{Username: "bob"},
		&JoinReply{Nick: "bob"},
		&UsersReply{Users: map[string]int{"bob": 2}},
		&StatusReply{Uptime: 17, Users: 4},
		&ErrorReply{Body: "No such thread"},
		&NoticeReply{Body: "Password changed."},
		&PubMsgReply{Nick: "bob", Body: "hello"},
		&PrivMsgReply{Nick: "eve", Body: "psst"},
		&QuitReply{Nick: "bob", Body: "Quit"},
		&ThreadsReply{Body: []*Thread{}},
		&ThreadReply{Body: &Thread{ID: 1, Username: "bob", Title: "Hi", Body: "World", TTL: 60000, Created: 1700000000000, Messages: []Post{{Username: "eve", Message: "me too"}}}},
		&DeleteReply{Body: "Thread deleted"},
	}

	for _, msg := range messages {
		t.Run(msg.Type(), func(t *testing.T) {
			line, err := EncodeLine(msg)
			require.NoError(t, err)

			decoded, err := DecodeServerLine(line)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestDecodeServerLineUnknownType(t *testing.T) {
	_, err := DecodeServerLine([]byte(`{"type":"telepathy"}`))
	require.Error(t, err)
}

func TestThreadRemaining(t *testing.T) {
	thread := &Thread{TTL: 1000, Created: 5000}

	assert.Equal(t, int64(1000), thread.Remaining(5000))
	assert.Equal(t, int64(500), thread.Remaining(5500))
	// Expired threads go negative; they are never filtered server-side
	assert.Equal(t, int64(-2000), thread.Remaining(8000))
}
