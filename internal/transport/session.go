package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"time"

	"github.com/bardlex/gomp-relay/internal/relay"
	"github.com/bardlex/gomp-relay/pkg/errors"
	"github.com/bardlex/gomp-relay/pkg/log"
)

const readChunkSize = 4096

// session drives one TCP connection to a receiver
type session struct {
	conn         net.Conn
	handler      Handler
	logger       *log.Logger
	writeTimeout time.Duration
}

func newSession(conn net.Conn, handler Handler, writeTimeout time.Duration, logger *log.Logger) *session {
	return &session{
		conn:         conn,
		handler:      handler,
		logger:       logger.WithFields("local_addr", conn.LocalAddr().String()),
		writeTimeout: writeTimeout,
	}
}

// run calls Establish, pumps frames in both directions until either side
// fails, then calls Closed exactly once after both loops have returned.
func (s *session) run(ctx context.Context) error {
	framer, outbound := s.handler.Establish()
	defer s.handler.Closed()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		err := s.writeLoop(ctx, framer, outbound)
		// unblock the reader
		s.closeConn()
		writeErr <- err
	}()

	readErr := s.readLoop(framer)
	cancel()
	s.closeConn()

	if err := <-writeErr; err != nil {
		return err
	}
	return readErr
}

func (s *session) readLoop(framer *relay.Framer) error {
	chunk := make([]byte, readChunkSize)
	var buf []byte

	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			off := 0
			for {
				msg, used, decodeErr := framer.Decode(buf[off:])
				if decodeErr != nil {
					return decodeErr
				}
				if used == 0 {
					break
				}
				off += used

				s.logger.LogRelayMessage("received", msg.Type.String(), len(msg.Payload))
				if handleErr := s.handler.MessageReceived(msg); handleErr != nil {
					return handleErr
				}
			}
			buf = buf[:copy(buf, buf[off:])]
		}

		if err != nil {
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, errors.ErrorTypeNetwork, "read", "failed to read from receiver")
		}
	}
}

func (s *session) writeLoop(ctx context.Context, framer *relay.Framer, outbound <-chan relay.Message) error {
	var frame []byte

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-outbound:
			if !ok {
				// the proxy released this connection
				return nil
			}

			var err error
			frame, err = framer.Encode(frame[:0], msg)
			if err != nil {
				if errors.IsType(err, errors.ErrorTypeCodec) {
					s.logger.WithError(err).Error("dropping message that cannot be framed",
						"type", msg.Type.String(),
						"payload_size", len(msg.Payload),
					)
					continue
				}
				return err
			}

			if s.writeTimeout > 0 {
				if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
					return errors.Wrap(err, errors.ErrorTypeNetwork, "write", "failed to set write deadline")
				}
			}

			if _, err := s.conn.Write(frame); err != nil {
				if stderrors.Is(err, net.ErrClosed) {
					return nil
				}
				return errors.Wrap(err, errors.ErrorTypeNetwork, "write", "failed to write frame")
			}

			s.logger.LogRelayMessage("sent", msg.Type.String(), len(msg.Payload))
		}
	}
}

func (s *session) closeConn() {
	if err := s.conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		s.logger.Error("failed to close connection", "error", err)
	}
}
