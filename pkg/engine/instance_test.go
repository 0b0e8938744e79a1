// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/AccelByte/extend-match-engine/pkg/models"
	"github.com/AccelByte/extend-match-engine/pkg/testsetup"
)

// scriptedHandler lets each test plug in just the callbacks it cares about.
type scriptedHandler struct {
	BaseMatchHandler

	initFn        func(ctx *MatchContext, params map[string]interface{}) (*models.MatchState, error)
	loopFn        func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error)
	joinAttemptFn func(ctx *MatchContext, state *models.MatchState, presence *models.PlayerPresence) (bool, error)

	terminateCalls atomic.Int64
}

func (h *scriptedHandler) MatchInit(ctx *MatchContext, params map[string]interface{}) (*models.MatchState, error) {
	if h.initFn != nil {
		return h.initFn(ctx, params)
	}
	return h.BaseMatchHandler.MatchInit(ctx, params)
}

func (h *scriptedHandler) MatchLoop(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
	if h.loopFn != nil {
		return h.loopFn(ctx, state, messages)
	}
	return state, nil
}

func (h *scriptedHandler) MatchJoinAttempt(ctx *MatchContext, state *models.MatchState, presence *models.PlayerPresence) (bool, error) {
	if h.joinAttemptFn != nil {
		return h.joinAttemptFn(ctx, state, presence)
	}
	return true, nil
}

func (h *scriptedHandler) MatchTerminate(ctx *MatchContext, state *models.MatchState, graceSeconds int) (*models.MatchState, error) {
	h.terminateCalls.Add(1)
	return state, nil
}

func newTestInstance(handler *scriptedHandler) *MatchInstance {
	if handler.Name == "" {
		handler.Name = "test-handler"
	}
	ctx := &MatchContext{
		MatchID: "match-under-test",
		NodeID:  "node-test",
		Scope:   testsetup.NewTestScope(),
		Env:     map[string]string{},
	}
	return NewMatchInstance(ctx.MatchID, handler.Name, handler, ctx, testsetup.NewMetrics())
}

func newTestPresence(sessionID string) *models.PlayerPresence {
	return &models.PlayerPresence{
		UserID:    "user_" + sessionID,
		SessionID: sessionID,
		Username:  "Player_" + sessionID,
		Peer:      testsetup.NewStubPeer(sessionID),
		JoinTime:  time.Now().UTC(),
	}
}

func TestMatchInstance_InitializeStartsTickLoop(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	var ticks atomic.Int64
	handler := &scriptedHandler{
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			ticks.Add(1)
			return state, nil
		},
	}
	instance := newTestInstance(handler)
	defer instance.Terminate(g.TestScope, 0)

	err := instance.Initialize(g.TestScope, nil)

	g.Expect(err).ToNot(HaveOccurred())
	g.Eventually(ticks.Load, "3s", "10ms").Should(BeNumerically(">", 2))
}

func TestMatchInstance_InitializeFailsOnNilState(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{
		initFn: func(ctx *MatchContext, params map[string]interface{}) (*models.MatchState, error) {
			return nil, nil
		},
	}
	instance := newTestInstance(handler)

	err := instance.Initialize(g.TestScope, nil)

	g.Expect(err).To(MatchError(ErrInitReturnedNoState))
}

func TestMatchInstance_TickRateIsClamped(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	cases := []struct {
		requested int
		want      int
	}{
		{requested: 0, want: 1},
		{requested: -5, want: 1},
		{requested: 200, want: 60},
		{requested: 30, want: 30},
	}

	for _, tc := range cases {
		requested := tc.requested
		handler := &scriptedHandler{
			initFn: func(ctx *MatchContext, params map[string]interface{}) (*models.MatchState, error) {
				state := models.NewMatchState(ctx.MatchID)
				state.TickRate = requested
				return state, nil
			},
		}
		instance := newTestInstance(handler)

		g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())
		g.Expect(instance.Info().TickRate).To(Equal(tc.want))

		instance.Terminate(g.TestScope, 0)
	}
}

func TestMatchInstance_MessagesDrainInArrivalOrderExactlyOnce(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	var mu sync.Mutex
	var delivered []int
	handler := &scriptedHandler{
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			mu.Lock()
			for _, msg := range messages {
				delivered = append(delivered, msg.OpCode)
			}
			mu.Unlock()
			return state, nil
		},
	}
	instance := newTestInstance(handler)
	defer instance.Terminate(g.TestScope, 0)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	sender := newTestPresence("session-1")
	for _, op := range []int{1001, 1002, 1003} {
		instance.QueueMessage(&models.MatchMessage{OpCode: op, Sender: sender, ReceivedAt: time.Now()})
	}

	g.Eventually(func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), delivered...)
	}, "3s", "10ms").Should(Equal([]int{1001, 1002, 1003}))

	// later ticks must not redeliver
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	g.Expect(delivered).To(Equal([]int{1001, 1002, 1003}))
}

func TestMatchInstance_NilLoopStateTerminatesMatch(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			return nil, nil
		},
	}
	instance := newTestInstance(handler)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	g.Eventually(instance.IsTerminated, "3s", "10ms").Should(BeTrue())
	g.Expect(handler.terminateCalls.Load()).To(Equal(int64(1)))
}

func TestMatchInstance_LoopErrorTerminatesMatch(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			return nil, errors.New("simulation blew up")
		},
	}
	instance := newTestInstance(handler)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	g.Eventually(instance.IsTerminated, "3s", "10ms").Should(BeTrue())
}

func TestMatchInstance_PanicFailsOnlyThatMatch(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	panicky := &scriptedHandler{
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			panic("handler bug")
		},
	}
	var healthyTicks atomic.Int64
	healthy := &scriptedHandler{
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			healthyTicks.Add(1)
			return state, nil
		},
	}

	panickyInstance := newTestInstance(panicky)
	healthyInstance := newTestInstance(healthy)
	defer healthyInstance.Terminate(g.TestScope, 0)

	g.Expect(panickyInstance.Initialize(g.TestScope, nil)).To(Succeed())
	g.Expect(healthyInstance.Initialize(g.TestScope, nil)).To(Succeed())

	g.Eventually(panickyInstance.IsTerminated, "3s", "10ms").Should(BeTrue())

	ticksAtTermination := healthyTicks.Load()
	g.Eventually(healthyTicks.Load, "3s", "10ms").Should(BeNumerically(">", ticksAtTermination))
}

func TestMatchInstance_TerminateIsIdempotent(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{}
	instance := newTestInstance(handler)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	instance.Terminate(g.TestScope, 0)
	instance.Terminate(g.TestScope, 0)
	instance.Terminate(g.TestScope, 5)

	g.Expect(instance.IsTerminated()).To(BeTrue())
	g.Expect(handler.terminateCalls.Load()).To(Equal(int64(1)))
}

func TestMatchInstance_TerminateDisconnectsPresences(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{}
	instance := newTestInstance(handler)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	presence := newTestPresence("session-kick")
	g.Expect(instance.TryJoinPlayer(g.TestScope, presence)).To(BeTrue())

	instance.Terminate(g.TestScope, 0)

	g.Expect(presence.Peer.IsConnected()).To(BeFalse())
}

func TestMatchInstance_RejectedJoinDoesNotMutateState(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{
		joinAttemptFn: func(ctx *MatchContext, state *models.MatchState, presence *models.PlayerPresence) (bool, error) {
			return false, nil
		},
	}
	instance := newTestInstance(handler)
	defer instance.Terminate(g.TestScope, 0)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	joined := instance.TryJoinPlayer(g.TestScope, newTestPresence("unwanted"))

	g.Expect(joined).To(BeFalse())
	g.Expect(instance.Presences()).To(BeEmpty())
}

func TestMatchInstance_JoinThenLeave(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{}
	instance := newTestInstance(handler)
	defer instance.Terminate(g.TestScope, 0)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	first := newTestPresence("session-a")
	second := newTestPresence("session-b")
	g.Expect(instance.TryJoinPlayer(g.TestScope, first)).To(BeTrue())
	g.Expect(instance.TryJoinPlayer(g.TestScope, second)).To(BeTrue())
	g.Expect(instance.HasSession("session-a")).To(BeTrue())

	instance.RemovePlayer(g.TestScope, first)

	g.Expect(instance.HasSession("session-a")).To(BeFalse())
	g.Expect(instance.HasSession("session-b")).To(BeTrue())
	g.Expect(instance.Info().PlayerCount).To(Equal(1))
}

func TestMatchInstance_RemoveAbsentPlayerIsNoOp(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{}
	instance := newTestInstance(handler)
	defer instance.Terminate(g.TestScope, 0)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	instance.RemovePlayer(g.TestScope, newTestPresence("never-joined"))

	g.Expect(instance.Presences()).To(BeEmpty())
}

func TestMatchInstance_MessagesAfterTerminateAreDropped(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	var delivered atomic.Int64
	handler := &scriptedHandler{
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			delivered.Add(int64(len(messages)))
			return state, nil
		},
	}
	instance := newTestInstance(handler)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	instance.Terminate(g.TestScope, 0)
	instance.QueueMessage(&models.MatchMessage{OpCode: 1001, ReceivedAt: time.Now()})

	time.Sleep(300 * time.Millisecond)
	g.Expect(delivered.Load()).To(Equal(int64(0)))
}

func TestMatchInstance_SignalRoundTrip(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	handler := &scriptedHandler{}
	instance := newTestInstance(handler)
	defer instance.Terminate(g.TestScope, 0)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	response, err := instance.Signal(g.TestScope, "status")

	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(response).To(Equal(""))
}

func TestMatchInstance_TicksNeverOverlapUnderSlowLoop(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	// loop body runs far longer than the 60 TPS interval
	var inFlight, maxInFlight, completed atomic.Int64
	handler := &scriptedHandler{
		initFn: func(ctx *MatchContext, params map[string]interface{}) (*models.MatchState, error) {
			state := models.NewMatchState(ctx.MatchID)
			state.TickRate = 60
			return state, nil
		},
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			current := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if current <= prev || maxInFlight.CompareAndSwap(prev, current) {
					break
				}
			}
			time.Sleep(80 * time.Millisecond)
			inFlight.Add(-1)
			completed.Add(1)
			return state, nil
		},
	}
	instance := newTestInstance(handler)
	defer instance.Terminate(g.TestScope, 0)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	g.Eventually(completed.Load, "3s", "10ms").Should(BeNumerically(">=", 3))
	instance.Terminate(g.TestScope, 0)

	g.Expect(maxInFlight.Load()).To(Equal(int64(1)))

	// backed-up ticks are skipped, not queued: nothing drains after terminate
	settled := completed.Load()
	time.Sleep(300 * time.Millisecond)
	g.Expect(completed.Load()).To(Equal(settled))
}

func TestMatchInstance_JoinAfterTerminateRejected(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	var attempts atomic.Int64
	handler := &scriptedHandler{
		joinAttemptFn: func(ctx *MatchContext, state *models.MatchState, presence *models.PlayerPresence) (bool, error) {
			attempts.Add(1)
			return true, nil
		},
	}
	instance := newTestInstance(handler)
	g.Expect(instance.Initialize(g.TestScope, nil)).To(Succeed())

	instance.Terminate(g.TestScope, 0)

	g.Expect(instance.TryJoinPlayer(g.TestScope, newTestPresence("late"))).To(BeFalse())
	g.Expect(attempts.Load()).To(Equal(int64(0)))
	g.Expect(instance.Presences()).To(BeEmpty())
}
