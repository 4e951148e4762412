package mixer

import (
	"fmt"
	"io"
)

// writeSeeker is an in-memory io.WriteSeeker. The wav encoder seeks back to
// patch RIFF chunk sizes on Close, which rules out a plain bytes.Buffer.
type writeSeeker struct {
	buf []byte
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if need := ws.pos + len(p); need > len(ws.buf) {
		if need > cap(ws.buf) {
			grown := make([]byte, need)
			copy(grown, ws.buf)
			ws.buf = grown
		} else {
			ws.buf = ws.buf[:need]
		}
	}
	copy(ws.buf[ws.pos:], p)
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = ws.pos + int(offset)
	case io.SeekEnd:
		next = len(ws.buf) + int(offset)
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek before start of buffer")
	}
	ws.pos = next
	return int64(next), nil
}

func (ws *writeSeeker) Bytes() []byte { return ws.buf }
