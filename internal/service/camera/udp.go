package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"medseen/internal/config"
	"medseen/internal/logger"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

var ErrNoFrame = errors.New("camera: no frame received yet")

// Assembler rebuilds JPEG frames from UDP datagrams, one buffer per camera.
// A datagram starting with the JPEG SOI marker starts a new frame, one ending
// with the EOI marker completes it.
type Assembler struct {
	buffers map[string]*bytes.Buffer
}

func NewAssembler() *Assembler {
	return &Assembler{buffers: make(map[string]*bytes.Buffer)}
}

// Push adds a datagram from camera and returns a complete frame when the
// datagram closes one.
func (a *Assembler) Push(camera string, data []byte) ([]byte, bool) {
	buf, ok := a.buffers[camera]
	if !ok {
		buf = new(bytes.Buffer)
		a.buffers[camera] = buf
	}

	if bytes.HasPrefix(data, jpegHeader) {
		buf.Reset()
	} else if buf.Len() == 0 {
		// Middle of a frame whose start we missed.
		return nil, false
	}
	buf.Write(data)

	if !bytes.HasSuffix(data, jpegFooter) {
		return nil, false
	}

	frame := make([]byte, buf.Len())
	copy(frame, buf.Bytes())
	buf.Reset()
	return frame, true
}

// UDPSource listens for JPEG datagrams from network cameras and serves the
// newest complete frame.
type UDPSource struct {
	conn   *net.UDPConn
	names  map[string]string
	logger *logger.Logger

	mu      sync.Mutex
	latest  Frame
	fresh   bool
	updated chan struct{}
	closed  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// ListenUDP opens the camera port and starts receiving.
func ListenUDP(config *config.Config, logger *logger.Logger) (*UDPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", ":"+strconv.Itoa(config.CamerasPort))
	if err != nil {
		return nil, fmt.Errorf("resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on UDP port %d: %w", config.CamerasPort, err)
	}

	s := newUDPSource(conn, config.CameraNames, logger)
	logger.Info("UDP camera source listening on %s", conn.LocalAddr())
	return s, nil
}

func newUDPSource(conn *net.UDPConn, names map[string]string, logger *logger.Logger) *UDPSource {
	s := &UDPSource{
		conn:    conn,
		names:   names,
		logger:  logger,
		updated: make(chan struct{}, 1),
		closed:  make(chan struct{}),
		now:     time.Now,
	}
	go s.receive()
	return s
}

func (s *UDPSource) receive() {
	assembler := NewAssembler()
	buffer := make([]byte, 65535)

	for {
		n, remote, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		ip := remote.IP.String()
		camera, ok := s.names[ip]
		if !ok {
			camera = "unknown_" + ip
		}

		frame, complete := assembler.Push(camera, buffer[:n])
		if !complete {
			continue
		}

		s.mu.Lock()
		s.latest = Frame{Data: frame, CapturedAt: s.now()}
		s.fresh = true
		s.mu.Unlock()

		select {
		case s.updated <- struct{}{}:
		default:
		}
	}
}

// Read returns a frame not handed out before, waiting for one until ctx is
// done.
func (s *UDPSource) Read(ctx context.Context) (Frame, error) {
	for {
		s.mu.Lock()
		if s.fresh {
			f := s.latest
			s.fresh = false
			s.mu.Unlock()
			return f, nil
		}
		s.mu.Unlock()

		select {
		case <-s.updated:
		case <-s.closed:
			return Frame{}, ErrClosed
		case <-ctx.Done():
			return Frame{}, fmt.Errorf("%w: %v", ErrNoFrame, ctx.Err())
		}
	}
}

func (s *UDPSource) Name() string {
	return "udp:" + s.conn.LocalAddr().String()
}

func (s *UDPSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}
