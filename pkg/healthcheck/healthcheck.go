// Package healthcheck exposes the readiness of the agent on a unix socket:
// once ready, every connection is answered with ReadyMsg and closed.
package healthcheck

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

const ReadyMsg = 0x01

type Server struct {
	ln         net.Listener
	readyCh    chan struct{}
	readyOnce  sync.Once
	socketPath string
	logger     log.Logger
}

func NewServer(socketPath string, logger log.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		readyCh:    make(chan struct{}),
		logger:     logger.With().Str("component", "healthcheck").Logger(),
	}
}

// Listen binds the socket, replacing a stale one, and serves connections
// until ctx is done or Shutdown is called.
func (s *Server) Listen(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove stale socket")
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrap(err, "failed to listen on UDS")
	}
	s.ln = ln

	go s.acceptConnections(ctx)

	return nil
}

// NotifyReadiness marks the agent ready. Later calls are no-ops.
func (s *Server) NotifyReadiness() {
	s.readyOnce.Do(func() {
		s.logger.Debug().Msg("marking readiness")
		close(s.readyCh)
	})
}

// Shutdown closes the listener and removes the socket.
func (s *Server) Shutdown() error {
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug().Err(err).Msg("error closing listener")
		}
	}

	if err := os.Remove(s.socketPath); err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrap(err, "error removing socket")
		}
		s.logger.Debug().Msg("socket file already removed")
	}

	return nil
}

func (s *Server) acceptConnections(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Msg("listener closed")
				return
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}

		go s.processConnection(ctx, conn)
	}
}

// processConnection holds conn until the agent is ready.
func (s *Server) processConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	select {
	case <-s.readyCh:
		if !s.isConnectionAlive(conn) {
			return
		}
		if err := s.safeWrite(conn, []byte{ReadyMsg}); err != nil {
			s.logger.Debug().Err(err).Msg("failed to write ready message")
		}
	case <-ctx.Done():
	}
}

func (s *Server) isConnectionAlive(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now())
	if _, err := conn.Read([]byte{}); err == io.EOF {
		s.logger.Debug().Msg("peer closed the connection before readiness")
		return false
	}
	conn.SetReadDeadline(time.Time{})

	return true
}

func (s *Server) safeWrite(conn net.Conn, data []byte) error {
	_, err := conn.Write(data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.EPIPE):
		return errors.Wrap(err, "peer closed the connection")
	case errors.Is(err, syscall.ECONNRESET):
		return errors.Wrap(err, "peer reset the connection")
	default:
		return errors.Wrap(err, "failed to write")
	}
}

// Wait polls the socket at socketPath until it answers ReadyMsg, for at
// most timeout.
func Wait(ctx context.Context, socketPath string, timeout time.Duration, logger log.Logger) error {
	const retryInterval = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		ready, err := probe(socketPath, retryInterval)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		logger.Debug().Str("socket", socketPath).Msg("agent not ready yet")

		select {
		case <-ctx.Done():
			return ErrTimeout
		case <-time.After(retryInterval):
		}
	}
}

// probe reports whether the server at socketPath is ready. Transient
// conditions, like a missing socket, are not errors.
func probe(socketPath string, timeout time.Duration) (bool, error) {
	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "error checking socket")
	}
	if info.Mode()&os.ModeSocket == 0 {
		return false, errors.Wrap(ErrNotSocket, socketPath)
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return false, errors.Wrap(err, "failed connecting")
		}
		return false, nil
	}
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return false, nil
	}

	return buf[0] == ReadyMsg, nil
}
