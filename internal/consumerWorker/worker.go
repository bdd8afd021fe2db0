package consumerWorker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wb-go/wbf/zlog"

	"runcrew/internal/dto"
	"runcrew/internal/mailer"
	"runcrew/internal/rabbit"
	"runcrew/internal/repo"
)

// Reader consumes freed-slot messages and mails the admin the current waitlist
// head. Promotion itself stays manual; this only makes sure the admin hears
// about the free seat while there is still someone waiting for it.
type Reader struct {
	RMQ    *rabbit.Client
	repo   repo.Repository
	mailer *mailer.Mailer
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, repo repo.Repository, m *mailer.Mailer) *Reader {
	return &Reader{
		RMQ:    rmq,
		repo:   repo,
		mailer: m,
		done:   make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("waitlist notification reader started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var msg dto.SlotFreedMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				zlog.Logger.Error().
					Err(err).
					Msgf("Failed to unmarshal message: %s", string(body))
				return err
			}

			zlog.Logger.Info().
				Int64("session_id", msg.SessionID).
				Time("freed_at", msg.FreedAt).
				Msg("received freed-slot message")

			session, err := r.repo.GetSessionByID(cctx, msg.SessionID)
			if err != nil {
				if errors.Is(err, repo.ErrSessionNotFound) {
					// Session was deleted between publish and consume; nothing to report.
					return nil
				}
				zlog.Logger.Error().
					Err(err).
					Int64("session_id", msg.SessionID).
					Msg("Failed to get session from DB in worker")
				return err
			}

			head, err := r.repo.GetWaitlistHead(cctx, msg.SessionID)
			if err != nil {
				if errors.Is(err, repo.ErrWaitlistEntryNotFound) {
					zlog.Logger.Info().
						Int64("session_id", msg.SessionID).
						Msg("waitlist emptied before notification, skipping email")
					return nil
				}
				zlog.Logger.Error().
					Err(err).
					Int64("session_id", msg.SessionID).
					Msg("Failed to get waitlist head in worker")
				return err
			}

			waiting, err := r.repo.CountWaitlist(cctx, msg.SessionID)
			if err != nil {
				zlog.Logger.Error().
					Err(err).
					Int64("session_id", msg.SessionID).
					Msg("Failed to count waitlist in worker")
				return err
			}

			if err := r.mailer.SendSlotFreedNotice(session, head, waiting); err != nil {
				zlog.Logger.Warn().
					Err(err).
					Int64("session_id", msg.SessionID).
					Msg("Failed to send freed-slot notice")
			}

			return nil
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("waitlist notification reader stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
