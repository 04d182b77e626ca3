package stratum

import (
	"context"
	"time"

	"github.com/quarrypool/quarry/internal/events"
	"github.com/quarrypool/quarry/internal/ledger"
	"github.com/quarrypool/quarry/internal/mining"
)

// HandleMessage dispatches one Stratum request for a session.
func (s *Server) HandleMessage(ctx context.Context, session *Session, msg *Message) error {
	switch msg.Method {
	case MethodSubscribe:
		return s.handleSubscribe(session, msg)
	case MethodAuthorize:
		return s.handleAuthorize(session, msg)
	case MethodSubmit:
		return s.handleSubmit(ctx, session, msg)
	default:
		s.logger.Warn("Unknown method, dropping", "method", msg.Method, "session_id", session.ID())
		return session.SendError(msg.ID, ErrorMethodNotFound, "Method not found")
	}
}

// handleSubscribe assigns the session's extra nonce and, if work already
// exists, pushes the current job immediately.
func (s *Server) handleSubscribe(session *Session, msg *Message) error {
	extraNonce1 := s.nextExtraNonce1()
	session.SetExtraNonce1(extraNonce1)
	session.SetSubscribed(true)
	session.SetDifficulty(s.cfg.ShareDifficulty)

	result := []any{
		[][]string{
			{"mining.set_difficulty", "1"},
			{"mining.notify", "1"},
		},
		extraNonce1,
		mining.ExtraNonce2Size,
	}
	if err := session.SendResponse(msg.ID, result); err != nil {
		return err
	}

	if err := session.SendNotification(MethodSetDifficulty, []any{session.Difficulty()}); err != nil {
		return err
	}

	s.jobMu.RLock()
	job := s.currentJob
	s.jobMu.RUnlock()
	if job != nil {
		return session.SendNotification(MethodNotify, job.NotifyParams())
	}
	return nil
}

func (s *Server) handleAuthorize(session *Session, msg *Message) error {
	req, err := ParseAuthorizeRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, ErrorInvalidParams, err.Error())
	}

	if !s.auth(req.Username, req.Password) {
		s.logger.Warn("Authorization rejected", "username", req.Username, "session_id", session.ID())
		return session.SendError(msg.ID, ErrorUnauthorized, "Unauthorized")
	}

	session.SetUsername(minerAddr(req.Username))
	session.SetWorkerName(req.Username)
	session.SetAuthorized(true)

	s.sink.Publish(events.TypeWorkerConnected, events.WorkerEvent{
		WorkerID:   req.Username,
		MinerAddr:  minerAddr(req.Username),
		RemoteAddr: session.RemoteAddr(),
	})

	return session.SendResponse(msg.ID, true)
}

// handleSubmit runs the full share pipeline: resolve the job, reconstruct
// the header, check the share target, detect block candidates, and record
// the result. Every submission becomes a ledger row, valid or not.
func (s *Server) handleSubmit(ctx context.Context, session *Session, msg *Message) error {
	if !session.IsSubscribed() {
		return session.SendError(msg.ID, ErrorNotSubscribed, "Not subscribed")
	}

	req, err := ParseSubmitRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, ErrorInvalidParams, err.Error())
	}

	job := s.lookupJob(req.JobID)
	if job == nil {
		s.recordShare(session, req, session.Difficulty(), false, false, nil, "")
		s.logger.LogShareSubmission(session.Username(), req.WorkerName, req.JobID, session.Difficulty(), "stale")
		return session.SendError(msg.ID, ErrorJobNotFound, "Job not found")
	}

	difficulty := session.Difficulty()

	_, hash, err := mining.HeaderForSubmit(job, session.ExtraNonce1(), &mining.Submit{
		WorkerName:  req.WorkerName,
		JobID:       req.JobID,
		ExtraNonce2: req.ExtraNonce2,
		NTime:       req.NTime,
		Nonce:       req.Nonce,
	})
	if err != nil {
		s.recordShare(session, req, difficulty, false, false, job, "")
		s.logger.LogShareSubmission(session.Username(), req.WorkerName, req.JobID, difficulty, "malformed")
		return session.SendError(msg.ID, ErrorInvalidParams, err.Error())
	}

	if !mining.HashMeetsTarget(hash, mining.DifficultyToTarget(difficulty)) {
		s.recordShare(session, req, difficulty, false, false, job, "")
		s.logger.LogShareSubmission(session.Username(), req.WorkerName, req.JobID, difficulty, "low_difficulty")
		return session.SendError(msg.ID, ErrorLowDifficulty, "Share above target")
	}

	// The proof of work is real, but unauthorized sessions earn no
	// credit: the share is recorded invalid and declined.
	if !session.IsAuthorized() {
		s.recordShare(session, req, difficulty, false, false, job, "")
		s.logger.LogShareSubmission(session.Username(), req.WorkerName, req.JobID, difficulty, "unauthorized")
		return session.SendError(msg.ID, ErrorUnauthorized, "Unauthorized")
	}

	isBlock := mining.HashMeetsTarget(hash, job.NetworkTarget)

	// The winning share must be in the window before the reward split
	// runs, otherwise the finder's own work is excluded from it.
	s.recordShare(session, req, difficulty, true, isBlock, job, hash.String())

	if isBlock {
		s.submitBlock(ctx, session, job, req, hash.String())
	}

	s.sink.Publish(events.TypeShareSubmitted, events.ShareEvent{
		WorkerID:   req.WorkerName,
		MinerAddr:  session.Username(),
		JobID:      req.JobID,
		Difficulty: difficulty,
		Valid:      true,
	})
	s.logger.LogShareSubmission(session.Username(), req.WorkerName, req.JobID, difficulty, "accepted")

	return session.SendResponse(msg.ID, true)
}

// submitBlock forwards a winning share to the node and triggers the
// reward split. The RPC call is never retried; the block is valid pool
// work and block:found is emitted even if propagation fails.
func (s *Server) submitBlock(ctx context.Context, session *Session, job *mining.Job, req *SubmitRequest, blockHash string) {
	blockHex, err := mining.ReconstructBlock(job, session.ExtraNonce1(), &mining.Submit{
		WorkerName:  req.WorkerName,
		JobID:       req.JobID,
		ExtraNonce2: req.ExtraNonce2,
		NTime:       req.NTime,
		Nonce:       req.Nonce,
	})
	if err != nil {
		s.logger.WithError(err).Error("Block reconstruction failed, potential lost block",
			"job_id", job.ID, "block_hash", blockHash)
	} else if err := s.node.SubmitBlock(ctx, blockHex); err != nil {
		s.logger.WithError(err).Error("Block submission failed, potential lost block",
			"job_id", job.ID, "block_hash", blockHash)
	}

	s.logger.LogBlockFound(blockHash, job.Height, session.Username(), req.WorkerName, session.Difficulty())

	s.sink.Publish(events.TypeBlockFound, events.BlockEvent{
		WorkerID:  req.WorkerName,
		MinerAddr: session.Username(),
		JobID:     job.ID,
		BlockHash: blockHash,
		Height:    job.Height,
		Reward:    job.CoinbaseValue,
	})

	if _, err := s.shares.DistributeReward(job.CoinbaseValue); err != nil {
		s.logger.WithError(err).Warn("Reward distribution skipped", "block_hash", blockHash)
	}
}

func (s *Server) recordShare(session *Session, req *SubmitRequest, difficulty float64, valid, isBlock bool, job *mining.Job, blockHash string) {
	share := &ledger.Share{
		WorkerID:    req.WorkerName,
		MinerAddr:   session.Username(),
		SourceIP:    session.RemoteAddr(),
		JobID:       req.JobID,
		Difficulty:  difficulty,
		Valid:       valid,
		IsBlock:     isBlock,
		SubmittedAt: time.Now().UTC(),
	}
	if isBlock && job != nil {
		share.BlockHeight = job.Height
		share.BlockHash = blockHash
	}
	s.shares.AddShare(share)

	if !valid {
		s.sink.Publish(events.TypeShareSubmitted, events.ShareEvent{
			WorkerID:   req.WorkerName,
			MinerAddr:  session.Username(),
			JobID:      req.JobID,
			Difficulty: difficulty,
			Valid:      false,
		})
	}
}
