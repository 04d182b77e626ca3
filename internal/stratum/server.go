package stratum

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/quarrypool/quarry/internal/events"
	"github.com/quarrypool/quarry/internal/ledger"
	"github.com/quarrypool/quarry/internal/mining"
	"github.com/quarrypool/quarry/internal/node"
	"github.com/quarrypool/quarry/pkg/log"
)

// Config holds the Stratum server parameters.
type Config struct {
	ListenAddr       string
	ListenPort       int
	PoolAddress      string
	ShareDifficulty  float64
	TemplateInterval time.Duration
	DifficultyPoll   time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
	ChainParams      *chaincfg.Params
}

// ShareRecorder is the accounting surface the server drives.
type ShareRecorder interface {
	AddShare(share *ledger.Share)
	DistributeReward(blockReward int64) (*ledger.RewardSplit, error)
}

// AuthFunc validates miner credentials. The default accepts any non-empty
// username; production deployments inject their auth store here.
type AuthFunc func(username, password string) bool

// Server terminates miner connections, distributes jobs derived from
// block templates, and feeds validated submissions into the ledger.
type Server struct {
	cfg    *Config
	node   node.Client
	shares ShareRecorder
	sink   events.Sink
	logger *log.Logger
	auth   AuthFunc

	sessionsMu sync.RWMutex
	sessions   map[string]*Session

	// jobMu guards the current job and the immediately preceding one,
	// which stays valid for in-flight submissions (one-job grace window).
	jobMu       sync.RWMutex
	currentJob  *mining.Job
	previousJob *mining.Job

	// refreshMu serializes RefreshJob. The template ticker and the ZMQ
	// notifier both call it; overlapping calls must not double-mint a
	// job for an unchanged previous hash.
	refreshMu sync.Mutex

	jobCounter     atomic.Uint64
	nonceCounter   atomic.Uint32
	sessionCounter atomic.Uint64

	networkDifficulty atomic.Uint64 // float64 bits

	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a Stratum server. auth may be nil for the default policy.
func New(cfg *Config, client node.Client, shares ShareRecorder, sink events.Sink, logger *log.Logger, auth AuthFunc) *Server {
	if auth == nil {
		auth = func(username, _ string) bool { return username != "" }
	}
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}
	return &Server{
		cfg:      cfg,
		node:     client,
		shares:   shares,
		sink:     sink,
		logger:   logger.WithComponent("stratum"),
		auth:     auth,
		sessions: make(map[string]*Session),
	}
}

// Start opens the listener and launches the accept loop and the template
// and difficulty pollers. Returns once listening; Stop shuts down.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ListenAddr, s.cfg.ListenPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info("Stratum server listening", "addr", addr)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.templateLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.difficultyLoop(ctx)
	}()

	return nil
}

// Stop closes the listener and every active session, then waits for the
// background loops and all per-connection goroutines to finish.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}

	s.sessionsMu.Lock()
	for _, sess := range s.sessions {
		sess.Close()
	}
	s.sessionsMu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.logger.WithError(err).Warn("Accept failed")
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	sessionID := fmt.Sprintf("session-%d", s.sessionCounter.Add(1))
	session := NewSession(sessionID, conn, s.logger, s.cfg.IdleTimeout, s.cfg.WriteTimeout)

	s.sessionsMu.Lock()
	s.sessions[sessionID] = session
	s.sessionsMu.Unlock()

	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, sessionID)
		s.sessionsMu.Unlock()

		s.sink.Publish(events.TypeWorkerDisconnected, events.WorkerEvent{
			WorkerID:   session.WorkerName(),
			MinerAddr:  minerAddr(session.Username()),
			RemoteAddr: session.RemoteAddr(),
		})
	}()

	if err := session.Start(ctx, s); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Debug("Session ended with error", "session_id", sessionID)
	}
}

// templateLoop polls the node for block templates. A failed poll skips the
// cycle and retries on the next tick, never crashing the server.
func (s *Server) templateLoop(ctx context.Context) {
	s.RefreshJob(ctx)

	ticker := time.NewTicker(s.cfg.TemplateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshJob(ctx)
		}
	}
}

// RefreshJob fetches the latest template and mints a new job only when
// the previous block hash changed. Also invoked directly by the ZMQ
// block notifier for immediate refresh.
func (s *Server) RefreshJob(ctx context.Context) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	template, err := s.node.GetBlockTemplate(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Template poll failed, skipping cycle")
		return
	}

	s.jobMu.RLock()
	current := s.currentJob
	s.jobMu.RUnlock()

	if current != nil && current.PrevHash == template.PreviousHash {
		return
	}

	jobID := fmt.Sprintf("%x", s.jobCounter.Add(1))
	job, err := mining.NewJob(jobID, template, s.cfg.PoolAddress, s.cfg.ChainParams)
	if err != nil {
		s.logger.WithError(err).Error("Job construction failed")
		return
	}
	job.CleanJobs = true

	s.jobMu.Lock()
	s.previousJob = s.currentJob
	s.currentJob = job
	s.jobMu.Unlock()

	s.broadcastJob(job)
}

func (s *Server) broadcastJob(job *mining.Job) {
	params := job.NotifyParams()

	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	count := 0
	for _, sess := range s.sessions {
		if !sess.IsSubscribed() {
			continue
		}
		if err := sess.SendNotification(MethodNotify, params); err != nil {
			s.logger.WithError(err).Debug("Job push failed", "session_id", sess.ID())
			continue
		}
		count++
	}

	s.logger.LogJobDistribution(job.ID, job.Height, job.CleanJobs, count)
}

// difficultyLoop refreshes the network difficulty on its own slower
// cadence, independent of job distribution.
func (s *Server) difficultyLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DifficultyPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			difficulty, err := s.node.GetDifficulty(ctx)
			if err != nil {
				s.logger.WithError(err).Warn("Difficulty poll failed, skipping cycle")
				continue
			}
			old := s.NetworkDifficulty()
			if difficulty != old {
				s.networkDifficulty.Store(floatBits(difficulty))
				s.logger.Info("Network difficulty updated", "difficulty", difficulty)
			}
		}
	}
}

// NetworkDifficulty returns the last polled network difficulty.
func (s *Server) NetworkDifficulty() float64 {
	return floatFromBits(s.networkDifficulty.Load())
}

// lookupJob resolves a submitted job id against the current job and the
// one-job grace window.
func (s *Server) lookupJob(jobID string) *mining.Job {
	s.jobMu.RLock()
	defer s.jobMu.RUnlock()

	if s.currentJob != nil && s.currentJob.ID == jobID {
		return s.currentJob
	}
	if s.previousJob != nil && s.previousJob.ID == jobID {
		return s.previousJob
	}
	return nil
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// nextExtraNonce1 allocates a session extra nonce from a process-wide
// counter, so concurrently assigned values are always distinct.
func (s *Server) nextExtraNonce1() string {
	return fmt.Sprintf("%08x", s.nonceCounter.Add(1))
}

// minerAddr extracts the payout address from a worker name of the form
// "address.rigname".
func minerAddr(workerName string) string {
	if idx := strings.IndexByte(workerName, '.'); idx > 0 {
		return workerName[:idx]
	}
	return workerName
}

func floatBits(f float64) uint64 {
	return math.Float64bits(f)
}

func floatFromBits(b uint64) float64 {
	if b == 0 {
		return 0
	}
	return math.Float64frombits(b)
}
