// Package bridge reads motion samples from a BLE-to-serial bridge. The bridge
// subscribes to the sensor module's accelerometer and gyroscope
// characteristics and writes each notification as one sample-log line
// (<t_ns>,<A|G>,<hex>) on a serial port.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"levelsense/internal/monitoring"
	"levelsense/internal/motion"
	"levelsense/internal/replay"
)

type Config struct {
	// Device is the serial port path. Empty picks the first port the OS lists.
	Device   string
	Baud     int
	DataBits int
	StopBits int
	// Parity is N, E or O.
	Parity string
}

// Opener opens a serial port. Tests replace it with an in-memory pipe.
type Opener func(path string, mode *serial.Mode) (io.ReadCloser, error)

// Handler receives each decoded line.
type Handler func(kind motion.Kind, payload []byte, at time.Time) error

type Snapshot struct {
	Connected   bool   `json:"connected"`
	Device      string `json:"device,omitempty"`
	Baud        int    `json:"baud,omitempty"`
	Lines       uint64 `json:"lines"`
	ParseErrors uint64 `json:"parse_errors"`
	LastError   string `json:"last_error,omitempty"`
}

type Service struct {
	cfg  Config
	open Opener
	list func() ([]string, error)
	now  func() time.Time

	last atomic.Value // Snapshot

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config) *Service {
	s := &Service{
		cfg: cfg,
		open: func(path string, mode *serial.Mode) (io.ReadCloser, error) {
			return serial.Open(path, mode)
		},
		list: serial.GetPortsList,
		now:  time.Now,
	}
	s.last.Store(Snapshot{Device: cfg.Device, Baud: cfg.Baud})
	return s
}

// WithOpener swaps the port opener.
func (s *Service) WithOpener(o Opener) *Service {
	s.open = o
	return s
}

// Mode converts the config into a go.bug.st/serial mode, applying 115200 8N1
// defaults.
func (c Config) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: c.Baud, DataBits: c.DataBits}
	if mode.BaudRate <= 0 {
		mode.BaudRate = 115200
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d: must be between 5 and 8", mode.DataBits)
	}
	switch c.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", c.StopBits)
	}
	switch strings.ToUpper(strings.TrimSpace(c.Parity)) {
	case "", "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q: expected N, E, or O", c.Parity)
	}
	return mode, nil
}

// Run opens the port and feeds lines to h until ctx is done, reopening with
// backoff after read errors. Handler errors are recorded, not fatal.
func (s *Service) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("bridge: handler is nil")
	}
	mode, err := s.cfg.Mode()
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	backoff := 250 * time.Millisecond
	const maxBackoff = 10 * time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		device, err := s.device()
		if err == nil {
			var port io.ReadCloser
			port, err = s.open(device, mode)
			if err == nil {
				backoff = 250 * time.Millisecond
				err = s.serve(ctx, device, mode.BaudRate, port, h)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setError(fmt.Sprintf("bridge: %v", err))
		monitoring.Logf("bridge: %v (retry in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (s *Service) device() (string, error) {
	if d := strings.TrimSpace(s.cfg.Device); d != "" {
		return d, nil
	}
	ports, err := s.list()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	return ports[0], nil
}

func (s *Service) serve(ctx context.Context, device string, baud int, port io.ReadCloser, h Handler) error {
	s.mu.Lock()
	s.closer = port
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.closer = nil
		s.mu.Unlock()
		_ = port.Close()
	}()

	// Closing the port unblocks the scanner on cancel.
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer stop()

	monitoring.Logf("bridge: connected device=%s baud=%d", device, baud)
	s.update(func(sn *Snapshot) {
		sn.Connected = true
		sn.Device = device
		sn.Baud = baud
		sn.LastError = ""
	})
	defer s.update(func(sn *Snapshot) { sn.Connected = false })

	// Device timestamps are relative to the bridge's own START; anchor them
	// to the host clock at the first record after each START.
	var anchor time.Time
	sc := bufio.NewScanner(port)
	for sc.Scan() {
		rec, ok, err := replay.ParseLine(sc.Text())
		if err != nil {
			s.update(func(sn *Snapshot) {
				sn.ParseErrors++
				sn.LastError = err.Error()
			})
			continue
		}
		if !ok {
			continue
		}
		if rec.IsStart() {
			anchor = time.Time{}
			continue
		}
		if anchor.IsZero() {
			anchor = s.now().Add(-rec.At)
		}
		s.update(func(sn *Snapshot) { sn.Lines++ })
		if err := h(rec.Kind, rec.Payload, anchor.Add(rec.At)); err != nil {
			s.update(func(sn *Snapshot) { sn.LastError = err.Error() })
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", device, err)
	}
	return fmt.Errorf("read %s: %w", device, io.EOF)
}

// Close interrupts an active read. Run returns once its context is canceled.
func (s *Service) Close() {
	s.mu.Lock()
	c := s.closer
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (s *Service) Snapshot() Snapshot {
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (s *Service) update(f func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.Snapshot()
	f(&cur)
	s.last.Store(cur)
}

func (s *Service) setError(msg string) {
	s.update(func(sn *Snapshot) { sn.LastError = msg })
}
