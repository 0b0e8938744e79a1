// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AccelByte/extend-match-engine/pkg/envelope"
	"github.com/AccelByte/extend-match-engine/pkg/metrics"
	"github.com/AccelByte/extend-match-engine/pkg/models"
	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

// pool reusable message batches shared by all instances
var pool = models.NewPool()

// MatchInstance is the per-match state machine. It owns the single live
// MatchState, the pending-message queue and a private tick loop. Handler
// callbacks for one instance never run concurrently; ticks that fire while
// the previous tick is still executing are dropped, not queued.
type MatchInstance struct {
	ID          string
	HandlerName string

	handler MatchHandler
	ctx     *MatchContext
	metrics metrics.EngineMetrics

	// callbackMu serializes every handler invocation and the state swap
	// that follows it.
	callbackMu sync.Mutex

	stateMu sync.RWMutex
	state   *models.MatchState

	pendingMu sync.Mutex
	pending   []*models.MatchMessage

	inTick     atomic.Bool
	terminated atomic.Bool

	stopTicker chan struct{}
	stopOnce   sync.Once
}

func NewMatchInstance(id string, handlerName string, handler MatchHandler, ctx *MatchContext, m metrics.EngineMetrics) *MatchInstance {
	return &MatchInstance{
		ID:          id,
		HandlerName: handlerName,
		handler:     handler,
		ctx:         ctx,
		metrics:     m,
		stopTicker:  make(chan struct{}),
	}
}

// Initialize runs the handler init callback and, on success, starts the tick
// loop at the state's clamped rate. A nil state or an error fails the whole
// match creation.
func (m *MatchInstance) Initialize(rootScope *envelope.Scope, params map[string]interface{}) error {
	scope := rootScope.NewChildScope("MatchInstance.Initialize")
	defer scope.Finish()

	state, err := m.handler.MatchInit(m.ctx, params)
	if err != nil {
		scope.Log.WithError(err).Errorf("MatchInit failed for match %s", m.ID)
		return err
	}
	if state == nil {
		scope.Log.Errorf("MatchInit returned nil state for match %s", m.ID)
		return ErrInitReturnedNoState
	}

	state.MatchID = m.ID
	m.stateMu.Lock()
	m.state = state
	m.stateMu.Unlock()

	m.startTickLoop(scope)

	scope.Log.Infof("match %s initialized", m.ID)

	return nil
}

// startTickLoop reads the tick rate once, clamps it, and spins the private
// ticker goroutine.
func (m *MatchInstance) startTickLoop(scope *envelope.Scope) {
	m.stateMu.Lock()
	rate := m.state.ClampedTickRate()
	m.state.TickRate = rate
	m.stateMu.Unlock()

	interval := time.Second / time.Duration(rate)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopTicker:
				return
			case <-ticker.C:
				m.processTick()
				// drop any tick that queued up while we were processing
				select {
				case <-ticker.C:
				default:
				}
			}
		}
	}()

	scope.Log.Infof("started tick loop for match %s at %d TPS", m.ID, rate)
}

// processTick drains the pending queue and runs the handler loop callback.
// Re-entrant invocations are skipped entirely.
func (m *MatchInstance) processTick() {
	if m.terminated.Load() {
		return
	}
	if !m.inTick.CompareAndSwap(false, true) {
		return
	}
	defer m.inTick.Store(false)

	start := time.Now()
	batch := m.drainPending()
	defer func() {
		pool.MessageBatches.Put(batch[:0])
	}()

	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	if m.terminated.Load() {
		return
	}

	newState, err := m.runLoopCallback(batch)
	if err != nil {
		m.ctx.Scope.Log.WithError(err).Errorf("error in match loop %s, terminating", m.ID)
		m.terminateLocked(m.ctx.Scope, 0)
		return
	}
	if newState == nil {
		m.ctx.Scope.Log.Infof("match loop for %s returned no state, terminating", m.ID)
		m.terminateLocked(m.ctx.Scope, 0)
		return
	}

	m.stateMu.Lock()
	m.state = newState
	m.state.TickCount++
	m.state.Touch()
	m.stateMu.Unlock()

	if m.metrics != nil {
		m.metrics.AddMatchTick(m.HandlerName, time.Since(start))
	}
}

// runLoopCallback invokes the handler loop with a panic guard: a panicking
// handler fails only its own match.
func (m *MatchInstance) runLoopCallback(batch []*models.MatchMessage) (state *models.MatchState, err error) {
	defer func() {
		if r := recover(); r != nil {
			state = nil
			err = newHandlerPanicError(r)
		}
	}()

	m.stateMu.RLock()
	current := m.state
	m.stateMu.RUnlock()

	return m.handler.MatchLoop(m.ctx, current, batch)
}

func (m *MatchInstance) drainPending() []*models.MatchMessage {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	batch := pool.MessageBatches.Get()
	batch = append(batch, m.pending...)
	m.pending = m.pending[:0]

	return batch
}

// QueueMessage buffers one gameplay message for the next tick. Messages for
// terminated matches are dropped.
func (m *MatchInstance) QueueMessage(msg *models.MatchMessage) {
	if m.terminated.Load() {
		return
	}

	m.pendingMu.Lock()
	m.pending = append(m.pending, msg)
	m.pendingMu.Unlock()
}

// TryJoinPlayer runs the join-attempt predicate and, if accepted, the join
// callback. A rejected or failed join never mutates state.
func (m *MatchInstance) TryJoinPlayer(rootScope *envelope.Scope, presence *models.PlayerPresence) bool {
	scope := rootScope.NewChildScope("MatchInstance.TryJoinPlayer")
	defer scope.Finish()

	if m.terminated.Load() {
		return false
	}

	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	// a terminate may have won the lock race
	if m.terminated.Load() {
		return false
	}

	m.stateMu.RLock()
	current := m.state
	m.stateMu.RUnlock()

	canJoin, err := m.handler.MatchJoinAttempt(m.ctx, current, presence)
	if err != nil {
		scope.Log.WithError(err).Errorf("join attempt failed for player %s in match %s", presence.UserID, m.ID)
		return false
	}
	if !canJoin {
		scope.Log.Warnf("join attempt rejected for player %s in match %s", presence.UserID, m.ID)
		return false
	}

	newState, err := m.handler.MatchJoin(m.ctx, current, []*models.PlayerPresence{presence})
	if err != nil {
		scope.Log.WithError(err).Errorf("failed to join player %s to match %s", presence.UserID, m.ID)
		return false
	}
	if newState == nil {
		return false
	}

	m.stateMu.Lock()
	m.state = newState
	m.stateMu.Unlock()

	scope.Log.Infof("player %s joined match %s", presence.UserID, m.ID)

	return true
}

// RemovePlayer runs the leave callback for the departing presence. Best
// effort: callback errors are logged only.
func (m *MatchInstance) RemovePlayer(rootScope *envelope.Scope, presence *models.PlayerPresence) {
	scope := rootScope.NewChildScope("MatchInstance.RemovePlayer")
	defer scope.Finish()

	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	m.stateMu.RLock()
	current := m.state
	m.stateMu.RUnlock()
	if current == nil || !current.HasSession(presence.SessionID) {
		return
	}

	newState, err := m.handler.MatchLeave(m.ctx, current, []*models.PlayerPresence{presence})
	if err != nil {
		scope.Log.WithError(err).Errorf("error removing player %s from match %s", presence.UserID, m.ID)
		return
	}
	if newState != nil {
		m.stateMu.Lock()
		m.state = newState
		m.stateMu.Unlock()
	}
}

// Signal delivers an out-of-band control string to the handler and returns
// its response.
func (m *MatchInstance) Signal(rootScope *envelope.Scope, signal string) (string, error) {
	scope := rootScope.NewChildScope("MatchInstance.Signal")
	defer scope.Finish()

	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	m.stateMu.RLock()
	current := m.state
	m.stateMu.RUnlock()

	newState, response, err := m.handler.MatchSignal(m.ctx, current, signal)
	if err != nil {
		return "", err
	}
	if newState != nil {
		m.stateMu.Lock()
		m.state = newState
		m.stateMu.Unlock()
	}

	return response, nil
}

// Terminate shuts the match down: cancels the ticker, runs the handler
// terminate callback best-effort, marks the state terminated and disconnects
// every present player. Idempotent: repeat calls are no-ops beyond logging.
func (m *MatchInstance) Terminate(rootScope *envelope.Scope, graceSeconds int) {
	scope := rootScope.NewChildScope("MatchInstance.Terminate")
	defer scope.Finish()

	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	m.terminateLocked(scope, graceSeconds)
}

// terminateLocked is the termination body; callers hold callbackMu.
func (m *MatchInstance) terminateLocked(scope *envelope.Scope, graceSeconds int) {
	if !m.terminated.CompareAndSwap(false, true) {
		scope.Log.Debugf("match %s already terminated", m.ID)
		return
	}

	scope.Log.Infof("terminating match %s", m.ID)

	m.stopOnce.Do(func() {
		close(m.stopTicker)
	})

	m.stateMu.RLock()
	current := m.state
	m.stateMu.RUnlock()

	if current != nil && !current.Terminated {
		func() {
			defer func() {
				if r := recover(); r != nil {
					scope.Log.Errorf("terminate callback panicked for match %s: %v", m.ID, r)
				}
			}()
			if _, err := m.handler.MatchTerminate(m.ctx, current, graceSeconds); err != nil {
				scope.Log.WithError(err).Errorf("terminate callback failed for match %s", m.ID)
			}
		}()
	}

	var presences []*models.PlayerPresence
	m.stateMu.Lock()
	if m.state != nil {
		m.state.Terminated = true
		presences = m.state.Presences
	}
	m.stateMu.Unlock()

	for _, presence := range presences {
		if presence.Peer != nil {
			presence.Peer.Disconnect(transport.DisconnectKicked)
		}
	}
}

// IsTerminated reports whether the match has shut down.
func (m *MatchInstance) IsTerminated() bool {
	return m.terminated.Load()
}

// LastActivity returns the state's last-activity timestamp.
func (m *MatchInstance) LastActivity() time.Time {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.state == nil {
		return time.Time{}
	}

	return m.state.LastActivity
}

// HasSession reports whether the player currently occupies this match.
func (m *MatchInstance) HasSession(sessionID string) bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	return m.state != nil && m.state.HasSession(sessionID)
}

// Presences returns the current presence list.
func (m *MatchInstance) Presences() []*models.PlayerPresence {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.state == nil {
		return nil
	}

	return append([]*models.PlayerPresence(nil), m.state.Presences...)
}

// Info returns a read-only projection of the match.
func (m *MatchInstance) Info() models.MatchInfo {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	info := models.MatchInfo{
		MatchID:     m.ID,
		HandlerName: m.HandlerName,
	}
	if m.state != nil {
		info.Label = m.state.Label
		info.PlayerCount = len(m.state.Presences)
		info.TickRate = m.state.TickRate
		info.TickCount = m.state.TickCount
		info.CreatedAt = m.state.CreatedAt
	}

	return info
}

// StateSnapshot returns a deep copy of the live state for observers.
func (m *MatchInstance) StateSnapshot() (*models.MatchState, error) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.state == nil {
		return nil, ErrMatchNotFound
	}

	return m.state.Copy()
}

// UpdateLabel sets the state label. Used by the dispatcher only.
func (m *MatchInstance) UpdateLabel(label string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != nil {
		m.state.Label = label
	}
}
