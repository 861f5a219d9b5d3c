package wschat

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// STOMP commands spoken by the client.
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
	CommandDisconnect  = "DISCONNECT"
)

const (
	HeaderAcceptVersion = "accept-version"
	HeaderVersion       = "version"
	HeaderHost          = "host"
	HeaderHeartBeat     = "heart-beat"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderSubscription  = "subscription"
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessage       = "message"
)

const supportedVersions = "1.2,1.1,1.0"

// HeaderField is a single STOMP header. Frames keep headers in wire order
// because a repeated key only counts the first time.
type HeaderField struct {
	Key   string
	Value string
}

// Frame is one STOMP frame. A frame with an empty Command is a heart-beat.
type Frame struct {
	Command string
	Headers []HeaderField
	Body    []byte
}

func NewFrame(command string, headers ...string) Frame {
	f := Frame{Command: command}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers = append(f.Headers, HeaderField{Key: headers[i], Value: headers[i+1]})
	}
	return f
}

func (f Frame) IsHeartbeat() bool {
	return f.Command == ""
}

// Header returns the first value of key.
func (f Frame) Header(key string) (string, bool) {
	h, ok := lo.Find(f.Headers, func(h HeaderField) bool { return h.Key == key })
	return h.Value, ok
}

func (f Frame) String() string {
	if f.IsHeartbeat() {
		return "<heart-beat>"
	}
	dst, _ := f.Header(HeaderDestination)
	if dst == "" {
		return f.Command
	}
	return f.Command + " " + dst
}

// escapes reports whether header values are escaped for this command.
// CONNECT and CONNECTED frames are exempt for 1.0 compatibility.
func escapes(command string) bool {
	return command != CommandConnect && command != CommandConnected
}

var (
	headerEscaper = strings.NewReplacer(
		"\\", "\\\\",
		"\r", "\\r",
		"\n", "\\n",
		":", "\\c",
	)
	headerUnescaper = strings.NewReplacer(
		"\\\\", "\\",
		"\\r", "\r",
		"\\n", "\n",
		"\\c", ":",
	)
)

// Marshal writes the frame in STOMP wire format, NUL terminated. Frames
// carrying a body get a content-length header unless one is already present.
func (f Frame) Marshal() []byte {
	if f.IsHeartbeat() {
		return []byte{'\n'}
	}

	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')

	escape := escapes(f.Command)
	for _, h := range f.Headers {
		if escape {
			b.WriteString(headerEscaper.Replace(h.Key))
			b.WriteByte(':')
			b.WriteString(headerEscaper.Replace(h.Value))
		} else {
			b.WriteString(h.Key)
			b.WriteByte(':')
			b.WriteString(h.Value)
		}
		b.WriteByte('\n')
	}
	if _, ok := f.Header(HeaderContentLength); !ok && len(f.Body) > 0 {
		b.WriteString(HeaderContentLength)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// ParseFrame reads one frame from the payload of a WebSocket message. Leading
// EOLs are heart-beats; a payload made only of EOLs yields a heart-beat frame.
func ParseFrame(data []byte) (Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return Frame{}, nil
	}

	line, rest, ok := cutLine(data)
	if !ok {
		return Frame{}, errors.Wrap(ErrMalformedFrame, "missing command terminator")
	}
	f := Frame{Command: string(line)}
	escape := escapes(f.Command)

	for {
		line, rest, ok = cutLine(rest)
		if !ok {
			return Frame{}, errors.Wrapf(ErrMalformedFrame, "unterminated %s headers", f.Command)
		}
		if len(line) == 0 {
			break
		}

		key, value, found := bytes.Cut(line, []byte{':'})
		if !found {
			return Frame{}, errors.Wrapf(ErrMalformedFrame, "invalid header line %q", line)
		}
		h := HeaderField{Key: string(key), Value: string(value)}
		if escape {
			h.Key = headerUnescaper.Replace(h.Key)
			h.Value = headerUnescaper.Replace(h.Value)
		}
		f.Headers = append(f.Headers, h)
	}

	body, err := frameBody(f, rest)
	if err != nil {
		return Frame{}, err
	}
	f.Body = body
	return f, nil
}

func frameBody(f Frame, rest []byte) ([]byte, error) {
	if raw, ok := f.Header(HeaderContentLength); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return nil, errors.Wrapf(ErrMalformedFrame, "invalid content-length %q", raw)
		}
		if len(rest) < n+1 || rest[n] != 0 {
			return nil, errors.Wrapf(ErrMalformedFrame, "body shorter than content-length %d", n)
		}
		return rest[:n], nil
	}

	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, errors.Wrap(ErrMalformedFrame, "missing NUL terminator")
	}
	return rest[:end], nil
}

// cutLine splits data at the first LF, dropping an optional CR before it.
func cutLine(data []byte) (line, rest []byte, ok bool) {
	line, rest, ok = bytes.Cut(data, []byte{'\n'})
	if !ok {
		return nil, data, false
	}
	return bytes.TrimSuffix(line, []byte{'\r'}), rest, true
}
