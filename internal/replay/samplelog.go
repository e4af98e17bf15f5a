package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"levelsense/internal/motion"
)

// Sample log format, one record per line:
//
//	# comment            ignored, as are blank lines
//	START                resets the time origin
//	<t_ns>,<A|G>,<hex>   t_ns since START, A=accelerometer G=gyroscope,
//	                     hex is the raw characteristic payload
//
// Payloads are stored undecoded so saturated or short payloads replay
// exactly as they arrived.

// Record is one log line. A START marker has a nil Payload.
type Record struct {
	At      time.Duration
	Kind    motion.Kind
	Payload []byte
}

func (r Record) IsStart() bool { return r.Payload == nil }

// ParseLine parses a single log line. ok is false for blank and comment lines.
func ParseLine(line string) (rec Record, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Record{}, false, nil
	}
	if line == "START" {
		return Record{}, true, nil
	}

	fields := strings.SplitN(line, ",", 3)
	if len(fields) != 3 {
		return Record{}, false, fmt.Errorf("invalid sample line (want t_ns,kind,hex): %q", line)
	}
	tsStr := strings.TrimSpace(fields[0])
	kindStr := strings.TrimSpace(fields[1])
	hexStr := strings.ReplaceAll(strings.TrimSpace(fields[2]), " ", "")
	if tsStr == "" || kindStr == "" || hexStr == "" {
		return Record{}, false, fmt.Errorf("invalid sample line (empty field): %q", line)
	}

	tsNs, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("invalid sample timestamp %q: %w", tsStr, err)
	}
	if tsNs < 0 {
		return Record{}, false, fmt.Errorf("invalid sample timestamp (negative): %d", tsNs)
	}
	kind, err := ParseKind(kindStr)
	if err != nil {
		return Record{}, false, err
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return Record{}, false, fmt.Errorf("invalid sample hex payload: %w", err)
	}
	if len(b) == 0 {
		return Record{}, false, errors.New("invalid sample payload (empty)")
	}
	return Record{At: time.Duration(tsNs), Kind: kind, Payload: b}, true, nil
}

// ParseKind maps the single-letter log tag to a sample kind.
func ParseKind(s string) (motion.Kind, error) {
	switch strings.ToUpper(s) {
	case "A":
		return motion.Accelerometer, nil
	case "G":
		return motion.Gyroscope, nil
	default:
		return 0, fmt.Errorf("invalid sample kind %q (want A or G)", s)
	}
}

func kindTag(k motion.Kind) (string, error) {
	switch k {
	case motion.Accelerometer:
		return "A", nil
	case motion.Gyroscope:
		return "G", nil
	default:
		return "", fmt.Errorf("cannot log sample kind %s", k)
	}
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		rec, ok, err := ParseLine(s.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReadFile loads a whole sample log.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer appends samples to a log file. Each file gets a session id comment
// followed by a START marker.
type Writer struct {
	f       *os.File
	w       *bufio.Writer
	start   time.Time
	session string
	closed  bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	session := uuid.NewString()
	bw := bufio.NewWriterSize(f, 16*1024)
	if _, err := fmt.Fprintf(bw, "# session %s\nSTART\n", session); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now(), session: session}, nil
}

func (ww *Writer) Session() string { return ww.session }

func (ww *Writer) WriteSample(now time.Time, kind motion.Kind, payload []byte) error {
	if ww.closed {
		return errors.New("sample writer is closed")
	}
	if len(payload) == 0 {
		return errors.New("payload is empty")
	}
	tag, err := kindTag(kind)
	if err != nil {
		return err
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err = fmt.Fprintf(ww.w, "%d,%s,%s\n", d.Nanoseconds(), tag, hex.EncodeToString(payload))
	return err
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}
