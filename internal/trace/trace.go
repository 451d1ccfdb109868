// Package trace reads and writes the line-oriented access trace format
// and provides the per-module command tracer hook.
//
// The format is one request per line after an "NVMV<version>" header:
//
//	<cycle> <op> 0x<address> <data-hex> <oldData-hex> <threadId>
//
// where op is R or W and the data fields spell the full memory word in
// hex. Version 0 traces omit the oldData field.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/memforge/go-memsim/internal/core"
)

// FormatVersion is the version written by Writer.
const FormatVersion = 1

// Line is one parsed trace access.
type Line struct {
	Cycle    uint64
	Op       core.OpType
	Address  uint64
	Data     core.DataBlock
	OldData  core.DataBlock
	ThreadID int
}

// Reader parses a trace stream.
type Reader struct {
	scanner     *bufio.Scanner
	closer      io.Closer
	version     int
	readVersion bool
}

// NewReader wraps a stream.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// OpenReader opens a trace file.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open trace file %s: %w", path, err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Version returns the trace format version, valid after the first Next.
func (r *Reader) Version() int {
	return r.version
}

func (r *Reader) nextLine() (string, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		return line, nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Next returns the next access, or io.EOF at end of trace.
func (r *Reader) Next() (*Line, error) {
	line, err := r.nextLine()
	if err != nil {
		return nil, err
	}

	if !r.readVersion {
		r.readVersion = true
		if strings.HasPrefix(line, "NVMV") {
			v, err := strconv.Atoi(strings.TrimPrefix(line, "NVMV"))
			if err != nil {
				return nil, fmt.Errorf("bad trace version line %q", line)
			}
			r.version = v
			line, err = r.nextLine()
			if err != nil {
				return nil, err
			}
		}
	}

	return r.parse(line)
}

func (r *Reader) parse(line string) (*Line, error) {
	fields := strings.Fields(line)

	want := 6
	if r.version == 0 {
		want = 5
	}
	if len(fields) != want {
		return nil, fmt.Errorf("trace line has %d fields, want %d: %q", len(fields), want, line)
	}

	out := &Line{}

	cycle, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad trace cycle %q: %w", fields[0], err)
	}
	out.Cycle = cycle

	switch fields[1] {
	case "R":
		out.Op = core.OpRead
	case "W":
		out.Op = core.OpWrite
	default:
		return nil, fmt.Errorf("unknown trace operation %q", fields[1])
	}

	addr, err := strconv.ParseUint(fields[2], 0, 64)
	if err != nil {
		return nil, fmt.Errorf("bad trace address %q: %w", fields[2], err)
	}
	out.Address = addr

	out.Data, err = core.ParseDataBlock(fields[3])
	if err != nil {
		return nil, err
	}

	threadField := fields[4]
	if r.version == 0 {
		// Old traces carry no previous value: zero-fill to match.
		out.OldData = core.NewDataBlock(out.Data.Size())
	} else {
		out.OldData, err = core.ParseDataBlock(fields[4])
		if err != nil {
			return nil, err
		}
		threadField = fields[5]
	}

	tid, err := strconv.Atoi(threadField)
	if err != nil {
		return nil, fmt.Errorf("bad trace thread id %q: %w", threadField, err)
	}
	out.ThreadID = tid

	return out, nil
}

// ToRequest converts a parsed line into a transaction request.
func (l *Line) ToRequest() *core.Request {
	req := core.NewRequest(l.Op, l.Address)
	req.Data = l.Data
	req.OldData = l.OldData
	req.ThreadID = l.ThreadID
	return req
}

// Writer emits the version-1 trace format.
type Writer struct {
	w           io.Writer
	echo        io.Writer
	wroteHeader bool
}

// NewWriter wraps a stream. The header is written lazily with the first
// access.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// SetEcho duplicates every line to a second stream (typically stdout).
func (w *Writer) SetEcho(echo io.Writer) {
	w.echo = echo
}

// Write emits one access. Only reads and writes appear in traces.
func (w *Writer) Write(line *Line) error {
	if line.Op != core.OpRead && line.Op != core.OpWrite {
		return nil
	}

	if !w.wroteHeader {
		w.wroteHeader = true
		if _, err := fmt.Fprintf(w.w, "NVMV%d\n", FormatVersion); err != nil {
			return err
		}
	}

	op := "R"
	if line.Op == core.OpWrite {
		op = "W"
	}
	text := fmt.Sprintf("%d %s 0x%x %s %s %d\n",
		line.Cycle, op, line.Address, line.Data.String(), line.OldData.String(), line.ThreadID)

	if w.echo != nil {
		fmt.Fprint(w.echo, text)
	}
	_, err := io.WriteString(w.w, text)
	return err
}

// WriteRequest emits a request as seen at the given cycle.
func (w *Writer) WriteRequest(cycle uint64, req *core.Request) error {
	return w.Write(&Line{
		Cycle:    cycle,
		Op:       req.Type,
		Address:  req.Address.Physical,
		Data:     req.Data,
		OldData:  req.OldData,
		ThreadID: req.ThreadID,
	})
}
