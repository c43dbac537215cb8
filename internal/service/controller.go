package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/channel"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/hub"
	"github.com/Rrens/meeting-assistant/internal/metrics"
	"github.com/Rrens/meeting-assistant/internal/provider"
	"github.com/Rrens/meeting-assistant/internal/registry"
)

// Recorder is the meeting record projection. Calls must not block.
type Recorder interface {
	Open(ownerUserID, sourceID, title string)
	MarkEnded(ownerUserID, sourceID string, status domain.MeetingStatus)
}

// LiveView drops per-source transcript state once a session ends
type LiveView interface {
	Forget(sourceID string)
}

// LaunchRequest is a validated request to start a bot
type LaunchRequest struct {
	OwnerUserID string
	TargetURL   string
	DisplayName string
	Title       string
	Options     provider.LaunchOptions
}

// TerminateTarget selects the session to end. SessionID wins when set;
// OwnerUserID then restricts the lookup to that owner's session.
type TerminateTarget struct {
	SessionID   string
	OwnerUserID string
}

// Controller drives the bot session lifecycle across the provider, the
// registry, the transcript channel and the live hub.
type Controller struct {
	gateway  provider.Gateway
	registry *registry.Registry
	strategy channel.Strategy
	recorder Recorder
	notify   channel.Notifier
	live     LiveView
	metrics  *metrics.Metrics
}

// NewController creates a new lifecycle controller
func NewController(
	gateway provider.Gateway,
	reg *registry.Registry,
	strategy channel.Strategy,
	recorder Recorder,
	notify channel.Notifier,
	live LiveView,
	m *metrics.Metrics,
) *Controller {
	return &Controller{
		gateway:  gateway,
		registry: reg,
		strategy: strategy,
		recorder: recorder,
		notify:   notify,
		live:     live,
		metrics:  m,
	}
}

// Launch creates an upstream session for the owner, registers it and
// attaches a transcript channel. Provider errors are returned untouched.
func (c *Controller) Launch(ctx context.Context, req LaunchRequest) (*domain.BotSession, error) {
	mode := req.Options.Mode
	if mode == "" {
		mode = domain.ModeBot
		req.Options.Mode = mode
	}
	logger := log.With().Str("user_id", req.OwnerUserID).Str("mode", string(mode)).Logger()

	if err := c.registry.Reserve(req.OwnerUserID); err != nil {
		c.metrics.LaunchesTotal.WithLabelValues(string(mode), launchResult(err)).Inc()
		return nil, err
	}
	defer c.registry.Release(req.OwnerUserID)

	opts := req.Options
	c.strategy.Prepare(&opts)

	start := time.Now()
	session, err := c.gateway.CreateSession(ctx, provider.CreateRequest{
		TargetURL:   req.TargetURL,
		DisplayName: req.DisplayName,
		OwnerUserID: req.OwnerUserID,
		Options:     opts,
	})
	c.observe("create", start, err)
	if err != nil {
		c.metrics.LaunchesTotal.WithLabelValues(string(mode), "provider_error").Inc()
		logger.Warn().Err(err).Str("target", req.TargetURL).Msg("provider rejected launch")
		return nil, err
	}

	// the record is opened before the session becomes visible to transcript
	// delivery or status updates, so neither can reach it first
	title := req.Title
	if title == "" {
		title = session.Target()
	}
	c.recorder.Open(req.OwnerUserID, session.ID, title)

	if err := c.registry.Register(*session); err != nil {
		c.metrics.LaunchesTotal.WithLabelValues(string(mode), launchResult(err)).Inc()
		c.recorder.MarkEnded(req.OwnerUserID, session.ID, domain.MeetingCanceled)
		logger.Error().Err(err).Str("session_id", session.ID).Msg("could not register new session, removing upstream bot")
		if terr := c.gateway.Terminate(context.WithoutCancel(ctx), session.ID); terr != nil {
			logger.Warn().Err(terr).Str("session_id", session.ID).Msg("orphan bot cleanup failed")
		}
		return nil, err
	}
	c.metrics.ActiveSessions.Set(float64(c.registry.Len()))

	c.notify.PublishControl(req.OwnerUserID, hub.BotCreated(*session))

	if err := c.strategy.Attach(ctx, *session); err != nil {
		c.metrics.ChannelDropsTotal.WithLabelValues("attach_failed").Inc()
		logger.Warn().Err(err).Str("session_id", session.ID).Msg("transcript channel not attached, session continues without one")
	}

	c.metrics.LaunchesTotal.WithLabelValues(string(mode), "ok").Inc()
	logger.Info().Str("session_id", session.ID).Str("status", string(session.Status)).Msg("bot launched")

	current := c.registry.FindByID(session.ID)
	if current == nil {
		// ended by a status update while attaching
		current = session
	}
	return current, nil
}

func launchResult(err error) string {
	if errors.Is(err, domain.ErrShuttingDown) {
		return "shutting_down"
	}
	return "conflict"
}

// Terminate ends a session: the remote delete is best-effort, local state
// is always cleaned up.
func (c *Controller) Terminate(ctx context.Context, target TerminateTarget) error {
	session, err := c.resolve(target)
	if err != nil {
		return err
	}

	start := time.Now()
	err = c.gateway.Terminate(ctx, session.ID)
	c.observe("terminate", start, err)
	if err != nil {
		log.Warn().Err(err).
			Str("session_id", session.ID).
			Str("user_id", session.OwnerUserID).
			Msg("remote terminate failed, cleaning up locally")
	}

	c.finish(session, "terminated", domain.MeetingEnded)
	return nil
}

// HandleStatusChange applies an upstream status. Terminal statuses clean
// up the session without a remote call. Unknown sessions are ignored.
func (c *Controller) HandleStatusChange(sessionID string, status domain.BotStatus) bool {
	if !c.registry.UpdateStatus(sessionID, status) {
		log.Debug().Str("session_id", sessionID).Str("status", string(status)).Msg("status update ignored")
		return false
	}
	c.metrics.StatusChangesTotal.WithLabelValues(string(status)).Inc()

	session := c.registry.FindByID(sessionID)
	if session == nil {
		return false
	}
	log.Info().Str("session_id", sessionID).Str("user_id", session.OwnerUserID).Str("status", string(status)).Msg("bot status changed")
	c.notify.PublishControl(session.OwnerUserID, hub.BotStatus(session))

	if status.IsTerminal() {
		meeting := domain.MeetingEnded
		if status == domain.BotStatusFatal {
			meeting = domain.MeetingCanceled
		}
		c.finish(session, "status_"+string(status), meeting)
	}
	return true
}

// Current returns the owner's session, or nil
func (c *Controller) Current(ownerUserID string) *domain.BotSession {
	return c.registry.FindByUser(ownerUserID)
}

// Get returns the owner's session by id
func (c *Controller) Get(ownerUserID, sessionID string) (*domain.BotSession, error) {
	return c.resolve(TerminateTarget{SessionID: sessionID, OwnerUserID: ownerUserID})
}

// ShutdownSweep terminates every registered session. Individual failures
// are logged and do not stop the sweep.
func (c *Controller) ShutdownSweep(ctx context.Context) int {
	// launches still in flight fail at Register and remove their upstream bot
	c.registry.Close()
	sessions := c.registry.ListAll()
	ended := 0
	for _, s := range sessions {
		if err := c.Terminate(ctx, TerminateTarget{SessionID: s.ID}); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("shutdown sweep could not terminate session")
			continue
		}
		ended++
	}
	if len(sessions) > 0 {
		log.Info().Int("sessions", len(sessions)).Int("terminated", ended).Msg("shutdown sweep finished")
	}
	return ended
}

func (c *Controller) resolve(target TerminateTarget) (*domain.BotSession, error) {
	if target.SessionID != "" {
		s := c.registry.FindByID(target.SessionID)
		if s == nil || (target.OwnerUserID != "" && s.OwnerUserID != target.OwnerUserID) {
			return nil, &domain.NotFoundError{Resource: "session", Key: target.SessionID}
		}
		return s, nil
	}
	if target.OwnerUserID == "" {
		return nil, &domain.NotFoundError{Resource: "session", Key: ""}
	}
	s := c.registry.FindByUser(target.OwnerUserID)
	if s == nil {
		return nil, &domain.NotFoundError{Resource: "session for user", Key: target.OwnerUserID}
	}
	return s, nil
}

// finish removes the session and tells everyone it left. Only the caller
// that actually removed the session does the follow-up work.
func (c *Controller) finish(session *domain.BotSession, cause string, meeting domain.MeetingStatus) {
	removed := c.registry.Remove(session.ID)
	if removed == nil {
		return
	}

	c.recorder.MarkEnded(removed.OwnerUserID, removed.ID, meeting)
	c.live.Forget(removed.ID)

	c.metrics.TerminationsTotal.WithLabelValues(cause).Inc()
	c.metrics.ActiveSessions.Set(float64(c.registry.Len()))
	log.Info().Str("session_id", removed.ID).Str("user_id", removed.OwnerUserID).Str("cause", cause).Msg("bot left")

	c.notify.PublishControl(removed.OwnerUserID, hub.BotLeft(removed.ID, removed.OwnerUserID))
}

func (c *Controller) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		var perr *domain.ProviderError
		if errors.As(err, &perr) && perr.Status > 0 {
			result = fmt.Sprintf("http_%d", perr.Status)
		}
	}
	c.metrics.ProviderCallSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
