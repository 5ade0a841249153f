package push

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// STOMP 1.2 commands used by the client and the in-memory backend hub.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdDisconnect  = "DISCONNECT"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// ErrHeartbeat is returned by Decode for a bare EOL keep-alive.
var ErrHeartbeat = errors.New("stomp heartbeat")

// Frame is one STOMP frame. A header repeated on the wire keeps its first
// value.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

func NewFrame(cmd string, kv ...string) Frame {
	f := Frame{Command: cmd, Headers: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers[kv[i]] = kv[i+1]
	}
	return f
}

func (f Frame) Header(name string) string { return f.Headers[name] }

// Encode renders the frame with headers in sorted order.
func (f Frame) Encode() []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')

	escape := f.Command != CmdConnect && f.Command != CmdConnected
	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		if k == "content-length" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := f.Headers[k]
		if escape {
			k, v = escapeHeader(k), escapeHeader(v)
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		b.WriteString("content-length:")
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Decode parses a single frame. Leading EOLs are skipped; input made only of
// EOLs is a heartbeat.
func Decode(data []byte) (Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return Frame{}, ErrHeartbeat
	}

	cmdLine, rest, ok := cutLine(data)
	if !ok {
		return Frame{}, errors.New("stomp: missing command line")
	}
	f := Frame{Command: string(cmdLine), Headers: map[string]string{}}
	unescape := f.Command != CmdConnect && f.Command != CmdConnected

	for {
		var line []byte
		line, rest, ok = cutLine(rest)
		if !ok {
			return Frame{}, errors.New("stomp: unterminated headers")
		}
		if len(line) == 0 {
			break
		}
		k, v, found := strings.Cut(string(line), ":")
		if !found {
			return Frame{}, fmt.Errorf("stomp: malformed header %q", line)
		}
		if unescape {
			k, v = unescapeHeader(k), unescapeHeader(v)
		}
		if _, dup := f.Headers[k]; !dup {
			f.Headers[k] = v
		}
	}

	if cl := f.Headers["content-length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(rest) {
			return Frame{}, fmt.Errorf("stomp: bad content-length %q", cl)
		}
		f.Body = rest[:n]
		return f, nil
	}
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return Frame{}, errors.New("stomp: missing NUL terminator")
	}
	f.Body = rest[:end]
	return f, nil
}

func cutLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return nil, nil, false
	}
	line = bytes.TrimSuffix(b[:i], []byte("\r"))
	return line, b[i+1:], true
}

var (
	headerEscaper   = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	headerUnescaper = strings.NewReplacer("\\\\", "\\", "\\r", "\r", "\\n", "\n", "\\c", ":")
)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }
