package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/provider"
)

// SessionLister lists the sessions the reconciler should poll
type SessionLister interface {
	ListAll() []domain.BotSession
}

// StatusHandler applies a polled status
type StatusHandler interface {
	HandleStatusChange(sessionID string, status domain.BotStatus) bool
}

// Reconciler periodically polls the provider for every registered session
// and feeds changed statuses to the controller. It catches terminal states
// missed by sessions without a working transcript channel.
type Reconciler struct {
	cron     *cron.Cron
	gateway  provider.Gateway
	sessions SessionLister
	handler  StatusHandler
	timeout  time.Duration
}

// NewReconciler schedules polling with a cron spec such as "@every 30s"
func NewReconciler(schedule string, gateway provider.Gateway, sessions SessionLister, handler StatusHandler) (*Reconciler, error) {
	logger := cronLogger{}
	r := &Reconciler{
		cron: cron.New(cron.WithLogger(logger), cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		gateway:  gateway,
		sessions: sessions,
		handler:  handler,
		timeout:  20 * time.Second,
	}
	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, fmt.Errorf("invalid reconciler schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reconciler) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for a running pass to finish
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reconciler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.Reconcile(ctx)
}

// Reconcile runs one polling pass and returns the number of applied changes.
// Sessions whose status cannot be fetched are retried on the next pass.
func (r *Reconciler) Reconcile(ctx context.Context) int {
	changed := 0
	for _, s := range r.sessions.ListAll() {
		if ctx.Err() != nil {
			break
		}
		remote := r.gateway.GetStatus(ctx, s.ID)
		if remote == nil || remote.Status == "" || remote.Status == s.Status {
			continue
		}
		if r.handler.HandleStatusChange(s.ID, remote.Status) {
			changed++
		}
	}
	if changed > 0 {
		log.Debug().Int("changed", changed).Msg("reconciled bot statuses")
	}
	return changed
}

// cronLogger routes cron's own logging to zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("reconciler: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("reconciler: " + msg)
}
