package pagination

import (
	"net/url"
)

// ParamAfter is the query parameter carrying the cursor.
const ParamAfter = "after"

type cursorState int

const (
	cursorStart cursorState = iota
	cursorAt
	cursorEnd
)

// Cursor is the position of a stream: at the start, at a server-issued
// continuation token, or at the end.
type Cursor struct {
	state cursorState
	token string
}

// Start is the cursor before the first request.
func Start() Cursor {
	return Cursor{state: cursorStart}
}

// At continues from token. An empty token means there are no more pages.
func At(token string) Cursor {
	if token == "" {
		return End()
	}
	return Cursor{state: cursorAt, token: token}
}

// End is the cursor of an exhausted stream.
func End() Cursor {
	return Cursor{state: cursorEnd}
}

// IsEnd reports whether no further page may be fetched.
func (c Cursor) IsEnd() bool {
	return c.state == cursorEnd
}

// Token returns the continuation token, empty unless the cursor is At.
func (c Cursor) Token() string {
	return c.token
}

func (c Cursor) String() string {
	switch c.state {
	case cursorStart:
		return "start"
	case cursorEnd:
		return "end"
	default:
		return "at:" + c.token
	}
}

// query returns params plus the cursor's after parameter. params is not
// modified.
func (c Cursor) query(params url.Values) url.Values {
	q := make(url.Values, len(params)+1)
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	if c.state == cursorAt {
		q.Set(ParamAfter, c.token)
	}
	return q
}
