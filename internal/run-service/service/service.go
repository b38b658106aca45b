// Package service coordinates route planning and run guidance for every
// connected runner.
package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"run-route/internal/geo"
	"run-route/internal/run-service/analyzer"
	"run-route/internal/run-service/announce"
	"run-route/internal/run-service/companion"
	"run-route/internal/run-service/domain"
	"run-route/internal/run-service/interval"
	"run-route/internal/run-service/navigation"
	"run-route/internal/run-service/pace"
	"run-route/internal/run-service/planner"
	"run-route/internal/run-service/tracking"
	"run-route/internal/run-service/voice"
	"run-route/pkg/clock"
	"run-route/pkg/logger"
)

var (
	ErrRunInProgress        = errors.New("a run is already in progress")
	ErrNoActiveRun          = errors.New("no active run")
	ErrInvalidWaypointCount = errors.New("invalid waypoint count")
	ErrServiceClosed        = errors.New("run service closed")
)

// Config wires a RunService. Directions and Speech are required; the rest
// fall back to no-op or default implementations.
type Config struct {
	Directions planner.Directions
	// Speech delivers spoken text to the runner's phone.
	Speech     voice.Sender
	Repository domain.RunRepository
	Publisher  domain.EventPublisher
	Companion  companion.Channel
	Elevation  analyzer.ElevationProvider
	Clock      clock.Clock

	// Rand seeds waypoint generation; nil uses a time-seeded source.
	Rand            *rand.Rand
	RefreshInterval time.Duration
	Logger          logger.Logger
}

// RunService owns one runSession per runner.
type RunService struct {
	generator *planner.Generator
	resolver  *planner.Resolver
	engine    *planner.Engine
	analyzer  *analyzer.Analyzer
	elevation analyzer.ElevationProvider
	speech    voice.Sender
	repo      domain.RunRepository
	publisher domain.EventPublisher
	companion companion.Channel
	clock     clock.Clock
	refresh   time.Duration
	logger    logger.Logger

	mu       sync.RWMutex
	sessions map[string]*runSession
	closed   bool
}

// runSession is everything one runner has in flight.
type runSession struct {
	runnerID  string
	planner   *planner.Session
	navigator *navigation.Navigator
	coach     *pace.Coach
	tracker   *tracking.Tracker
	voice     *voice.Dispatcher
	announcer *announce.Announcer
	workout   *interval.Timer

	mu         sync.Mutex
	running    bool
	goal       Goal
	lastPushed *geo.Coordinate
	paceStatus pace.Status
}

func NewRunService(cfg Config) *RunService {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	elevation := cfg.Elevation
	if elevation == nil {
		elevation = analyzer.SimulatedElevation{}
	}
	channel := cfg.Companion
	if channel == nil {
		channel = companion.NewNopChannel()
	}

	generator := planner.NewGenerator(rnd)
	resolver := planner.NewResolver(cfg.Directions, log)

	return &RunService{
		generator: generator,
		resolver:  resolver,
		engine:    planner.NewEngine(generator, resolver, log),
		analyzer:  analyzer.New(elevation),
		elevation: elevation,
		speech:    cfg.Speech,
		repo:      cfg.Repository,
		publisher: cfg.Publisher,
		companion: channel,
		clock:     clk,
		refresh:   cfg.RefreshInterval,
		logger:    log,
		sessions:  make(map[string]*runSession),
	}
}

// session returns the runner's session, creating it on first use.
func (s *RunService) session(runnerID string) (*runSession, error) {
	s.mu.RLock()
	rs, ok := s.sessions[runnerID]
	closed := s.closed
	s.mu.RUnlock()
	if ok {
		return rs, nil
	}
	if closed {
		return nil, ErrServiceClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	if rs, ok := s.sessions[runnerID]; ok {
		return rs, nil
	}
	rs = s.newSession(runnerID)
	s.sessions[runnerID] = rs
	return rs, nil
}

// existing returns the runner's session without creating one.
func (s *RunService) existing(runnerID string) (*runSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.sessions[runnerID]
	return rs, ok
}

func (s *RunService) newSession(runnerID string) *runSession {
	log := s.logger.WithFields(logger.LogFields{"runner_id": runnerID})
	dispatcher := voice.NewDispatcher(voice.NewSocketSpeaker(s.speech, runnerID, log), s.clock, log)

	rs := &runSession{
		runnerID:   runnerID,
		navigator:  navigation.New(dispatcher.For(voice.Navigation), log),
		coach:      pace.NewCoach(dispatcher.For(voice.Coaching), s.clock),
		tracker:    tracking.NewTracker(s.clock),
		voice:      dispatcher,
		announcer:  announce.New(dispatcher.For(voice.Coaching), announce.DefaultInterval),
		workout:    interval.NewTimer(dispatcher.For(voice.Coaching), s.clock),
		paceStatus: pace.OnPace,
	}
	rs.planner = planner.NewSession(planner.SessionConfig{
		Generator:       s.generator,
		Resolver:        s.resolver,
		Engine:          s.engine,
		Clock:           s.clock,
		RefreshInterval: s.refresh,
		Logger:          log,
		OnCommit: func(snap planner.Snapshot) {
			log.WithFields(logger.LogFields{
				"waypoints": len(snap.Waypoints),
				"points":    len(snap.Route.Path),
				"status":    snap.Route.Status,
			}).Debug("route_committed", "Active route updated")
		},
	})

	log.Info("session_created", "Runner session created")
	return rs
}

// CloseSession ends the runner's planning and guidance and forgets them.
// An unfinished run is discarded without being recorded.
func (s *RunService) CloseSession(runnerID string) {
	s.mu.Lock()
	rs, ok := s.sessions[runnerID]
	delete(s.sessions, runnerID)
	s.mu.Unlock()

	if ok {
		rs.close()
		s.logger.WithFields(logger.LogFields{"runner_id": runnerID}).Info("session_closed", "Runner session closed")
	}
}

// Close ends every session. The service rejects new sessions afterwards.
func (s *RunService) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*runSession)
	s.mu.Unlock()

	for _, rs := range sessions {
		rs.close()
	}
}

func (rs *runSession) close() {
	rs.planner.Stop()
	rs.mu.Lock()
	if rs.running {
		rs.navigator.Stop()
		rs.coach.Reset()
		rs.announcer.Reset()
		rs.running = false
	}
	rs.mu.Unlock()
	rs.workout.Stop()
	rs.voice.Close()
}

// publish logs and swallows event delivery failures; the state change has
// already happened.
func (s *RunService) publish(ctx context.Context, runnerID string, event domain.DomainEvent) {
	if s.publisher == nil {
		return
	}
	log := s.logger.WithFields(logger.LogFields{
		"runner_id":  runnerID,
		"event_type": event.EventType(),
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error("publish_event_failed", err)
		return
	}
	log.Debug("event_published", "Domain event published")
}
