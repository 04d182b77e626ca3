package stratum

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quarrypool/quarry/pkg/log"
)

// Session is one miner connection and its protocol state machine:
// Connected, then Subscribed after mining.subscribe, then Authorized
// after mining.authorize. State is never persisted.
type Session struct {
	id     string
	conn   net.Conn
	logger *log.Logger

	subscribed  bool
	authorized  bool
	username    string
	workerName  string
	extraNonce1 string
	difficulty  float64

	lastActivity time.Time

	idleTimeout  time.Duration
	writeTimeout time.Duration

	outbound chan []byte
	done     chan struct{}

	mu sync.RWMutex
}

// NewSession creates a session for an accepted connection. The idle
// timeout closes sessions that stop sending lines.
func NewSession(id string, conn net.Conn, logger *log.Logger, idleTimeout, writeTimeout time.Duration) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		logger:       logger.WithFields("session_id", id, "remote_addr", conn.RemoteAddr().String()),
		difficulty:   1.0,
		lastActivity: time.Now(),
		idleTimeout:  idleTimeout,
		writeTimeout: writeTimeout,
		outbound:     make(chan []byte, 100),
		done:         make(chan struct{}),
	}
}

// MessageHandler processes parsed Stratum messages for a session.
type MessageHandler interface {
	HandleMessage(ctx context.Context, session *Session, msg *Message) error
}

// Start runs the session: the write loop in its own goroutine, the read
// loop in the caller's. Returns when the connection closes.
func (s *Session) Start(ctx context.Context, handler MessageHandler) error {
	s.logger.LogConnection("connected", s.conn.RemoteAddr().String())

	go s.writeLoop(ctx)

	return s.readLoop(ctx, handler)
}

// readLoop processes inbound lines strictly in arrival order. A line that
// fails to parse is answered with a parse error and dropped; the session
// stays open.
func (s *Session) readLoop(ctx context.Context, handler MessageHandler) error {
	defer s.Close()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 4096), 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		// The read deadline doubles as the idle timeout: a miner that
		// sends nothing for the whole window is disconnected.
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			s.logger.WithError(err).Error("failed to set read deadline")
			return err
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					s.logger.Info("session idle timeout, closing")
					return nil
				}
				s.logger.WithError(err).Error("scanner error")
				return err
			}
			s.logger.Info("client disconnected")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		s.touch()
		s.logger.LogStratumMessage("received", string(line))

		msg, err := ParseMessage(line)
		if err != nil {
			s.logger.WithError(err).Warn("failed to parse message, dropping line")
			if sendErr := s.SendError(nil, ErrorParseError, "Parse error"); sendErr != nil {
				s.logger.WithError(sendErr).Error("failed to send parse error")
			}
			continue
		}

		if err := handler.HandleMessage(ctx, s, msg); err != nil {
			s.logger.WithError(err).Error("failed to handle message")
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Error("failed to close connection", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.WithError(err).Error("failed to set write deadline")
				return
			}

			data = append(data, '\n')
			if _, err := s.conn.Write(data); err != nil {
				s.logger.WithError(err).Error("failed to write message")
				return
			}

			s.logger.LogStratumMessage("sent", string(data[:len(data)-1]))
		}
	}
}

// SendMessage queues a message for the write loop. Never blocks: a full
// outbound buffer is an error, not a stall for other sessions.
func (s *Session) SendMessage(msg *Message) error {
	data, err := MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
		return fmt.Errorf("outbound channel full")
	}
}

// SendResponse sends a result for a request id.
func (s *Session) SendResponse(id any, result any) error {
	return s.SendMessage(NewResponse(id, result))
}

// SendError sends an error response.
func (s *Session) SendError(id any, code int, message string) error {
	return s.SendMessage(NewErrorResponse(id, code, message))
}

// SendNotification sends a server-initiated notification.
func (s *Session) SendNotification(method string, params []any) error {
	return s.SendMessage(NewNotification(method, params))
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
		s.logger.LogConnection("disconnected", s.conn.RemoteAddr().String())
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the client's remote address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// LastActivity returns the time of the last inbound line.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IsSubscribed reports whether mining.subscribe has completed.
func (s *Session) IsSubscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed
}

// SetSubscribed marks the subscribe transition.
func (s *Session) SetSubscribed(subscribed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = subscribed
}

// IsAuthorized reports whether mining.authorize has succeeded.
func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// SetAuthorized marks the authorize transition.
func (s *Session) SetAuthorized(authorized bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = authorized
}

// Username returns the miner's payout address.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// SetUsername sets the miner's payout address.
func (s *Session) SetUsername(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
}

// WorkerName returns the full worker identifier.
func (s *Session) WorkerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workerName
}

// SetWorkerName sets the full worker identifier.
func (s *Session) SetWorkerName(workerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workerName = workerName
}

// ExtraNonce1 returns the session-fixed extra nonce assigned at subscribe.
func (s *Session) ExtraNonce1() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extraNonce1
}

// SetExtraNonce1 assigns the session's extra nonce. Fixed for the life of
// the connection.
func (s *Session) SetExtraNonce1(extraNonce1 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraNonce1 = extraNonce1
}

// Difficulty returns the session's assigned share difficulty.
func (s *Session) Difficulty() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.difficulty
}

// SetDifficulty sets the session's share difficulty.
func (s *Session) SetDifficulty(difficulty float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.difficulty = difficulty
}
