package wschat

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameMarshal(t *testing.T) {
	f := NewFrame(CommandSend, HeaderDestination, "/app/chat.sendMessage")
	f.Body = []byte(`{"sender":"Alice"}`)

	assert.Equal(t,
		"SEND\ndestination:/app/chat.sendMessage\ncontent-length:18\n\n{\"sender\":\"Alice\"}\x00",
		string(f.Marshal()),
	)
}

func TestFrameMarshalConnectDoesNotEscape(t *testing.T) {
	f := NewFrame(CommandConnect, HeaderAcceptVersion, supportedVersions, HeaderHost, "broker:8080")
	assert.Equal(t, "CONNECT\naccept-version:1.2,1.1,1.0\nhost:broker:8080\n\n\x00", string(f.Marshal()))
}

func TestFrameMarshalEscapesHeaders(t *testing.T) {
	f := NewFrame(CommandSend, "x-note", "a:b\nc\\d")
	assert.Equal(t, "SEND\nx-note:a\\cb\\nc\\\\d\n\n\x00", string(f.Marshal()))
}

func TestHeartbeatFrame(t *testing.T) {
	assert.Equal(t, "\n", string(Frame{}.Marshal()))

	for _, raw := range []string{"\n", "\r\n", "\n\n"} {
		f, err := ParseFrame([]byte(raw))
		require.NoError(t, err)
		assert.True(t, f.IsHeartbeat())
	}
}

func TestParseFrame(t *testing.T) {
	raw := "MESSAGE\r\n" +
		"subscription:sub-0\n" +
		"destination:/topic/public\n" +
		"destination:/ignored\n" +
		"x-note:a\\cb\n" +
		"\n" +
		`{"sender":"Bob","type":"JOIN"}` + "\x00\n"

	f, err := ParseFrame([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, CommandMessage, f.Command)
	assert.Equal(t, `{"sender":"Bob","type":"JOIN"}`, string(f.Body))

	dst, ok := f.Header(HeaderDestination)
	assert.True(t, ok)
	assert.Equal(t, "/topic/public", dst)

	note, _ := f.Header("x-note")
	assert.Equal(t, "a:b", note)

	_, ok = f.Header(HeaderReceipt)
	assert.False(t, ok)
}

func TestParseFrameLeadingHeartbeats(t *testing.T) {
	f, err := ParseFrame([]byte("\n\nRECEIPT\nreceipt-id:r-1\n\n\x00"))
	require.NoError(t, err)
	assert.Equal(t, CommandReceipt, f.Command)
	id, _ := f.Header(HeaderReceiptID)
	assert.Equal(t, "r-1", id)
}

func TestParseFrameContentLengthAllowsNUL(t *testing.T) {
	f, err := ParseFrame([]byte("MESSAGE\ncontent-length:3\n\na\x00b\x00"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a\x00b"), f.Body)
}

func TestParseFrameMalformed(t *testing.T) {
	inputs := map[string]string{
		"no command terminator": "CONNECTED",
		"unterminated headers":  "CONNECTED\nversion:1.2\n",
		"header without colon":  "CONNECTED\nversion\n\n\x00",
		"no NUL":                "MESSAGE\n\nbody",
		"bad content-length":    "MESSAGE\ncontent-length:x\n\nbody\x00",
		"short body":            "MESSAGE\ncontent-length:10\n\nbody\x00",
	}

	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrame([]byte(raw))
			assert.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := NewFrame(CommandSend,
		HeaderDestination, "/app/chat.sendMessage",
		HeaderContentType, "application/json",
		"x-odd", "line\nbreak:colon",
	)
	f.Body = []byte(`{"sender":"Alice","content":"hi","type":"CHAT"}`)

	parsed, err := ParseFrame(f.Marshal())
	require.NoError(t, err)
	assert.Equal(t, f.Command, parsed.Command)
	assert.Equal(t, f.Body, parsed.Body)

	odd, _ := parsed.Header("x-odd")
	assert.Equal(t, "line\nbreak:colon", odd)
	length, _ := parsed.Header(HeaderContentLength)
	assert.Equal(t, "47", length)
}
