package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"

	"gpsmap/internal/sim"
)

// Config controls the fix reader.
//
// The Waveshare L76X HAT appears as /dev/ttyAMA0 and outputs NMEA at 9600
// baud by default; USB receivers show up as /dev/ttyACM* or /dev/ttyUSB*.
//
// Source selects how fixes are ingested: "serial" (direct NMEA), "gpsd"
// (local gpsd daemon) or "sim" (synthetic route, no hardware).
type Config struct {
	Source string

	// Device is the serial device path for Source=="serial".
	// Empty means auto-detect.
	Device string
	Baud   int

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	// Route shapes the synthetic path when Source=="sim".
	Route sim.Route
}

// Service owns the background reader goroutine and the shared fix store.
type Service struct {
	cfg   Config
	store *Store

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closer  io.Closer
	lastErr string
}

func New(cfg Config) *Service {
	return &Service{cfg: cfg, store: NewStore()}
}

// Store exposes the shared fix aggregate for the web layer.
func (s *Service) Store() *Store {
	if s == nil {
		return nil
	}
	return s.store
}

// Fix returns a copy of the current fix.
func (s *Service) Fix() Fix {
	if s == nil {
		return Fix{}
	}
	return s.store.Snapshot()
}

// Source reports the effective ingest source.
func (s *Service) Source() string {
	if s == nil {
		return ""
	}
	src := strings.ToLower(strings.TrimSpace(s.cfg.Source))
	if src == "" {
		src = "serial"
	}
	return src
}

// LastError returns the most recent reader error, if any.
func (s *Service) LastError() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start launches the reader goroutine. An open failure (device missing,
// permission denied, port busy) is returned once to the caller; restart is an
// explicit external action, never automatic.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	switch s.Source() {
	case "sim":
		return s.startSimLocked(ctx)
	case "gpsd":
		return s.startGPSDLocked(ctx)
	case "serial":
		return s.startSerialLocked(ctx)
	default:
		return fmt.Errorf("unknown gps source %q", s.cfg.Source)
	}
}

func (s *Service) startSerialLocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.lastErr = "gps auto-detect failed: no serial GNSS device found"
			return fmt.Errorf("gps auto-detect failed")
		}
	}

	baud := s.cfg.Baud
	if baud <= 0 {
		baud = 9600
	}

	port, err := serial.Open(serial.OpenOptions{
		PortName:        device,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	})
	if err != nil {
		s.lastErr = fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, baud, err)
		return fmt.Errorf("gps open failed device=%s baud=%d: %w", device, baud, err)
	}
	// Keep the port reference so Close() unblocks a pending read.
	s.closer = port

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = port.Close() }()

		log.WithFields(log.Fields{"device": device, "baud": baud}).Info("gps reader started")
		s.readSentences(childCtx, port)
	}()
	return nil
}

func (s *Service) startSimLocked(ctx context.Context) error {
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	route := s.cfg.Route

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Info("gps simulation started")
		start := time.Now()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-childCtx.Done():
				return
			case now := <-ticker.C:
				lat, lon := route.Position(now.Sub(start))
				s.store.Merge(now, &RMC{
					Lat:        lat,
					Lon:        lon,
					LatOK:      true,
					LonOK:      true,
					SpeedKnots: route.Speed(),
					Timestamp:  now.UTC().Format("150405"),
					Valid:      true,
				})
			}
		}
	}()
	return nil
}

// readSentences consumes newline-terminated records until the reader fails or
// the context is cancelled. Per-line decode errors are swallowed: no merge,
// no propagation, reading continues.
func (s *Service) readSentences(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars, but allow some headroom.
	scanner.Buffer(make([]byte, 0, 256), 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			if ctx.Err() == nil {
				s.setError(fmt.Sprintf("gps read stopped: %v", err))
			}
			return
		}

		// Permissive best-effort decode: drop invalid byte sequences rather
		// than rejecting the line.
		line := strings.TrimSpace(strings.ToValidUTF8(scanner.Text(), ""))
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "$") {
			continue
		}

		sent := ParseSentence(line)
		if sent == nil {
			continue
		}
		s.store.Merge(time.Now(), sent)
	}
}

// Close stops the reader cooperatively and closes the underlying device.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
	log.Warn(msg)
}

func autoDetectDevice() string {
	// Keep it intentionally tiny and predictable. The L76X HAT pins the
	// Pi's PL011 UART, USB receivers enumerate as ACM/USB.
	candidates := []string{"/dev/ttyAMA0", "/dev/serial0"}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
