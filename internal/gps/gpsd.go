package gps

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Mode *int   `json:"mode"`
	Time string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	SpeedMS *float64 `json:"speed"`
}

type gpsdSat struct {
	Used bool `json:"used"`
}

type gpsdSKY struct {
	HDOP       *float64  `json:"hdop"`
	Satellites []gpsdSat `json:"satellites"`
}

const msPerKnot = 0.5144444444444445

// gpsdSentence translates one gpsd report line into the equivalent NMEA-shaped
// sentence, or nil for message classes the fix does not consume.
func gpsdSentence(line string) (Sentence, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return nil, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return nil, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		out := &RMC{Timestamp: strings.TrimSpace(tpv.Time)}
		if tpv.Lat != nil {
			out.Lat = *tpv.Lat
			out.LatOK = true
		}
		if tpv.Lon != nil {
			out.Lon = *tpv.Lon
			out.LonOK = true
		}
		if tpv.SpeedMS != nil && *tpv.SpeedMS >= 0 {
			out.SpeedKnots = *tpv.SpeedMS / msPerKnot
		}
		// Mode >= 2 is a 2D/3D fix.
		out.Valid = tpv.Mode != nil && *tpv.Mode >= 2 && out.LatOK && out.LonOK
		return out, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return nil, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		out := &GGA{}
		for _, sat := range sky.Satellites {
			if sat.Used {
				out.Satellites++
			}
		}
		if sky.HDOP != nil && *sky.HDOP >= 0 {
			out.HDOP = *sky.HDOP
		}
		// SKY carries no position or quality; it only refreshes auxiliary
		// fields through the merge.
		return out, nil
	default:
		// Ignore other gpsd messages (e.g. VERSION/DEVICES/WATCH).
		return nil, nil
	}
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.WithField("addr", addr).Info("gps reader started source=gpsd")
		backoff := 250 * time.Millisecond
		const maxBackoff = 10 * time.Second

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
				select {
				case <-childCtx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}

			// Reset backoff after a successful connection.
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			// Swap the closer so Close() can interrupt an active connection.
			s.closer = conn
			s.mu.Unlock()

			s.consumeGPSD(childCtx, conn)
			_ = conn.Close()
			// Loop and reconnect.
		}
	}()
	return nil
}

func (s *Service) consumeGPSD(ctx context.Context, conn net.Conn) {
	if err := gpsdWatch(conn); err != nil {
		s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
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
				s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sent, err := gpsdSentence(line)
		if err != nil {
			s.setError(err.Error())
			continue
		}
		if sent != nil {
			s.store.Merge(time.Now(), sent)
		}
	}
}
