package ptysession

import (
	"bytes"
	"fmt"
)

// maxPendingSeq bounds how many bytes of an unfinished escape sequence are
// held back between reads. Anything longer is not a device query; it is
// flushed through untouched.
const maxPendingSeq = 64

// queryAnswerer scans child output for terminal device queries, removes them
// from the stream, and produces the replies the child is waiting for. All
// other bytes pass through byte for byte.
type queryAnswerer struct {
	pending []byte // unfinished escape sequence from the previous chunk
	size    func() (rows, cols int)
}

func newQueryAnswerer(size func() (rows, cols int)) *queryAnswerer {
	return &queryAnswerer{size: size}
}

// process returns the chunk with answered queries removed, plus the reply
// bytes to write back to the child. An incomplete trailing CSI is held until
// the next chunk completes it.
func (q *queryAnswerer) process(chunk []byte) (out, replies []byte) {
	data := chunk
	if len(q.pending) > 0 {
		data = append(q.pending, chunk...)
		q.pending = nil
	}

	i := 0
	for i < len(data) {
		if data[i] != 0x1b {
			j := bytes.IndexByte(data[i:], 0x1b)
			if j < 0 {
				out = append(out, data[i:]...)
				i = len(data)
				break
			}
			out = append(out, data[i:i+j]...)
			i += j
			continue
		}
		if i+1 >= len(data) {
			q.pending = append(q.pending, data[i:]...)
			i = len(data)
			break
		}
		if data[i+1] != '[' {
			out = append(out, data[i], data[i+1])
			i += 2
			continue
		}
		end, final := findCSIEnd(data, i+2)
		if end < 0 {
			if len(data)-i <= maxPendingSeq {
				q.pending = append(q.pending, data[i:]...)
			} else {
				out = append(out, data[i:]...)
			}
			i = len(data)
			break
		}
		params := data[i+2 : end]
		if reply := csiReply(params, final, q.size); reply != nil {
			replies = append(replies, reply...)
		} else {
			out = append(out, data[i:end+1]...)
		}
		i = end + 1
	}
	return out, replies
}

// findCSIEnd locates the final byte of a CSI sequence starting after "ESC[".
// Returns -1 when the sequence is not complete in data.
func findCSIEnd(data []byte, start int) (end int, final byte) {
	for i := start; i < len(data); i++ {
		if data[i] >= 0x40 && data[i] <= 0x7e {
			return i, data[i]
		}
	}
	return -1, 0
}

// csiReply returns the answer to a device query, or nil when the sequence is
// not a query. Params are normalized by dropping spaces and the leading
// '?'/'>' private markers.
func csiReply(params []byte, final byte, size func() (rows, cols int)) []byte {
	p := make([]byte, 0, len(params))
	for _, b := range params {
		if b == ' ' {
			continue
		}
		if len(p) == 0 && (b == '?' || b == '>') {
			continue
		}
		p = append(p, b)
	}

	switch final {
	case 'n':
		// DSR: operating status.
		if bytes.Equal(p, []byte("5")) {
			return []byte("\x1b[0n")
		}
		// DSR: cursor position. Report the bottom-right of the child's
		// window; the child only uses it to learn the size.
		if bytes.Equal(p, []byte("6")) {
			rows, cols := size()
			if rows < 1 {
				rows = 24
			}
			if cols < 1 {
				cols = 80
			}
			return []byte(fmt.Sprintf("\x1b[%d;%dR", rows, cols))
		}
	case 'c':
		// DA: primary device attributes, a conservative VT220 answer.
		return []byte("\x1b[?1;2c")
	}
	return nil
}
