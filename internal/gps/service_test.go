package gps

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestReadSentences_MergesAndSkipsNoise(t *testing.T) {
	s := New(Config{})
	input := strings.Join([]string{
		"",
		"not nmea at all",
		"$GPTXT,01,01,02,u-blox ag - www.u-blox.com*50",
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A",
		"$GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		"\xff\xfe$GPRMC,bad",
	}, "\r\n") + "\r\n"

	s.readSentences(context.Background(), strings.NewReader(input))

	fix := s.Fix()
	if !fix.Valid {
		t.Fatalf("expected valid fix, got %+v", fix)
	}
	if fix.Satellites != 8 {
		t.Fatalf("satellites=%d want 8", fix.Satellites)
	}
	if fix.SpeedKnots != 22.4 {
		t.Fatalf("speed=%v want 22.4", fix.SpeedKnots)
	}
}

func TestReadSentences_StopsOnContextCancel(t *testing.T) {
	s := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readSentences(ctx, blockingReader{})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("readSentences did not notice cancellation")
	}
}

// blockingReader never returns data; cancellation must be noticed before the
// first Scan call.
type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) {
	time.Sleep(10 * time.Second)
	return 0, nil
}

func TestStart_UnknownSource(t *testing.T) {
	s := New(Config{Source: "carrier-pigeon"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStart_SerialOpenFailure(t *testing.T) {
	s := New(Config{Source: "serial", Device: "/dev/definitely-not-a-device", Baud: 9600})
	err := s.Start(context.Background())
	if err == nil {
		t.Fatalf("expected open failure")
	}
	if s.LastError() == "" {
		t.Fatalf("expected last error recorded")
	}
	// No retry: the service must not be running.
	s.Close()
}

func TestStart_SimProducesValidFix(t *testing.T) {
	s := New(Config{Source: "sim"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if fix := s.Fix(); fix.Valid {
			if fix.Lat < 45 || fix.Lat > 46 {
				t.Fatalf("lat=%v outside simulated route", fix.Lat)
			}
			if fix.Lon > -73 || fix.Lon < -74 {
				t.Fatalf("lon=%v outside simulated route", fix.Lon)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("no valid fix from simulation within deadline")
}

func TestService_NilSafe(t *testing.T) {
	var s *Service
	s.Close()
	if fix := s.Fix(); fix.Valid {
		t.Fatalf("nil service must report empty fix")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error from nil service")
	}
}
