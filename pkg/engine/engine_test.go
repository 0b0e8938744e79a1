// Copyright (c) 2026 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/AccelByte/extend-match-engine/pkg/config"
	"github.com/AccelByte/extend-match-engine/pkg/constants"
	"github.com/AccelByte/extend-match-engine/pkg/models"
	"github.com/AccelByte/extend-match-engine/pkg/testsetup"
	"github.com/AccelByte/extend-match-engine/pkg/transport"
)

func newTestConfig() *config.Config {
	return &config.Config{
		MatchmakingIntervalSecond:    3600,
		TicketCleanupIntervalSecond:  3600,
		MatchCleanupIntervalSecond:   3600,
		MatchInactivityTimeoutMinute: 30,
		EstimatedWaitMinSecond:       5,
		EstimatedWaitMaxSecond:       300,
	}
}

func newTestEngine(g testsetup.GomegaWithScope, cfg *config.Config) (*MatchEngine, *testsetup.StubTransport) {
	if cfg == nil {
		cfg = newTestConfig()
	}
	trans := testsetup.NewStubTransport()
	eng := NewMatchEngine(cfg, trans, testsetup.NewMetrics())

	g.Expect(eng.RegisterHandler(g.TestScope, &scriptedHandler{BaseMatchHandler: BaseMatchHandler{Name: "duel"}})).To(Succeed())
	g.Expect(eng.Start(g.TestScope, transport.Config{Address: "127.0.0.1", Port: 0})).To(Succeed())

	return eng, trans
}

func connectPeer(trans *testsetup.StubTransport, id string) *testsetup.StubPeer {
	peer := testsetup.NewStubPeer(id)
	trans.Connect(peer)
	return peer
}

func deliverJSON(g testsetup.GomegaWithScope, trans *testsetup.StubTransport, peer *testsetup.StubPeer, opCode int, payload interface{}) {
	data, err := json.Marshal(payload)
	g.Expect(err).ToNot(HaveOccurred())
	trans.DeliverMessage(peer, transport.Message{OpCode: opCode, Data: data, Timestamp: time.Now()})
}

func lastResponse(g testsetup.GomegaWithScope, peer *testsetup.StubPeer, opCode int, out interface{}) {
	messages := peer.SentMessages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].OpCode == opCode {
			g.Expect(json.Unmarshal(messages[i].Data, out)).To(Succeed())
			return
		}
	}
	g.Expect(messages).ToNot(BeEmpty(), "no response with opcode %d", opCode)
}

func TestMatchEngine_RegisterHandlerRejectsEmptyName(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng := NewMatchEngine(newTestConfig(), testsetup.NewStubTransport(), testsetup.NewMetrics())

	err := eng.RegisterHandler(g.TestScope, &scriptedHandler{})

	g.Expect(err).To(MatchError(ErrEmptyHandlerName))
}

func TestMatchEngine_CreateMatchUnknownHandler(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, _ := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	_, err := eng.CreateMatch(g.TestScope, "no-such-handler", nil)

	g.Expect(err).To(MatchError(ErrHandlerNotRegistered))
}

func TestMatchEngine_CreateJoinLeaveMatch(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, trans := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	peer := connectPeer(trans, "peer-1")

	matchID, err := eng.CreateMatch(g.TestScope, "duel", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(eng.MatchCount()).To(Equal(1))

	g.Expect(eng.JoinMatch(g.TestScope, matchID, peer.ID())).To(BeTrue())

	instance, ok := eng.GetMatch(matchID)
	g.Expect(ok).To(BeTrue())
	g.Expect(instance.HasSession(peer.ID())).To(BeTrue())

	g.Expect(eng.LeaveMatch(g.TestScope, matchID, peer.ID())).To(BeTrue())
	g.Expect(instance.HasSession(peer.ID())).To(BeFalse())
}

func TestMatchEngine_JoinSoftFailures(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, trans := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	peer := connectPeer(trans, "peer-1")
	matchID, err := eng.CreateMatch(g.TestScope, "duel", nil)
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(eng.JoinMatch(g.TestScope, "missing-match", peer.ID())).To(BeFalse())
	g.Expect(eng.JoinMatch(g.TestScope, matchID, "missing-session")).To(BeFalse())
	g.Expect(eng.LeaveMatch(g.TestScope, "missing-match", peer.ID())).To(BeFalse())
}

func TestMatchEngine_ConnectionKeyAdmission(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	cfg := newTestConfig()
	cfg.ConnectionKey = "sekrit"
	eng := NewMatchEngine(cfg, testsetup.NewStubTransport(), testsetup.NewMetrics())

	wrong := &testsetup.StubConnectionRequest{Addr: "10.0.0.1:1234", Key: "nope"}
	eng.OnConnectionRequest(wrong)
	g.Expect(wrong.Rejected).To(BeTrue())
	g.Expect(wrong.Accepted).To(BeFalse())

	right := &testsetup.StubConnectionRequest{Addr: "10.0.0.2:1234", Key: "sekrit"}
	eng.OnConnectionRequest(right)
	g.Expect(right.Accepted).To(BeTrue())

	open := NewMatchEngine(newTestConfig(), testsetup.NewStubTransport(), testsetup.NewMetrics())
	anyKey := &testsetup.StubConnectionRequest{Addr: "10.0.0.3:1234", Key: ""}
	open.OnConnectionRequest(anyKey)
	g.Expect(anyKey.Accepted).To(BeTrue())
}

func TestMatchEngine_ControlOpcodeRoundTrip(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, trans := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	peer := connectPeer(trans, "peer-1")

	deliverJSON(g, trans, peer, constants.OpCreateMatch, models.CreateMatchRequest{HandlerName: "duel"})

	var createResp models.CreateMatchResponse
	lastResponse(g, peer, constants.OpCreateMatchResponse, &createResp)
	g.Expect(createResp.Success).To(BeTrue())
	g.Expect(createResp.MatchID).ToNot(BeEmpty())

	deliverJSON(g, trans, peer, constants.OpJoinMatch, models.JoinMatchRequest{MatchID: createResp.MatchID})

	var joinResp models.JoinMatchResponse
	lastResponse(g, peer, constants.OpJoinMatchResponse, &joinResp)
	g.Expect(joinResp.Success).To(BeTrue())

	deliverJSON(g, trans, peer, constants.OpLeaveMatch, models.LeaveMatchRequest{MatchID: createResp.MatchID})

	var leaveResp models.LeaveMatchResponse
	lastResponse(g, peer, constants.OpLeaveMatchResponse, &leaveResp)
	g.Expect(leaveResp.Success).To(BeTrue())
}

func TestMatchEngine_CreateMatchUnknownHandlerViaMessage(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, trans := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	peer := connectPeer(trans, "peer-1")

	deliverJSON(g, trans, peer, constants.OpCreateMatch, models.CreateMatchRequest{HandlerName: "bogus"})

	var createResp models.CreateMatchResponse
	lastResponse(g, peer, constants.OpCreateMatchResponse, &createResp)
	g.Expect(createResp.Success).To(BeFalse())
	g.Expect(createResp.Error).ToNot(BeEmpty())
}

func TestMatchEngine_UnknownReservedOpcodeIsRejected(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, trans := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	peer := connectPeer(trans, "peer-1")

	trans.DeliverMessage(peer, transport.Message{OpCode: 500, Timestamp: time.Now()})

	g.Expect(peer.SentMessages()).To(BeEmpty())
}

func TestMatchEngine_GameplayMessagesFanOutToSenderMatches(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, trans := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	var mu sync.Mutex
	var seen []int
	recorder := &scriptedHandler{
		BaseMatchHandler: BaseMatchHandler{Name: "recorder"},
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			mu.Lock()
			for _, msg := range messages {
				seen = append(seen, msg.OpCode)
			}
			mu.Unlock()
			return state, nil
		},
	}
	g.Expect(eng.RegisterHandler(g.TestScope, recorder)).To(Succeed())

	insider := connectPeer(trans, "insider")
	outsider := connectPeer(trans, "outsider")

	matchID, err := eng.CreateMatch(g.TestScope, "recorder", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(eng.JoinMatch(g.TestScope, matchID, insider.ID())).To(BeTrue())

	trans.DeliverMessage(insider, transport.Message{OpCode: 1001, Timestamp: time.Now()})
	trans.DeliverMessage(outsider, transport.Message{OpCode: 2002, Timestamp: time.Now()})

	g.Eventually(func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), seen...)
	}, "3s", "10ms").Should(Equal([]int{1001}))
}

func TestMatchEngine_DisconnectRemovesPlayerEverywhere(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, trans := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	peer := connectPeer(trans, "peer-1")
	matchID, err := eng.CreateMatch(g.TestScope, "duel", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(eng.JoinMatch(g.TestScope, matchID, peer.ID())).To(BeTrue())

	trans.DeliverDisconnect(peer, transport.DisconnectConnectionLost)

	instance, ok := eng.GetMatch(matchID)
	g.Expect(ok).To(BeTrue())
	g.Expect(instance.HasSession(peer.ID())).To(BeFalse())

	// session is gone, the same peer id can no longer join
	g.Expect(eng.JoinMatch(g.TestScope, matchID, peer.ID())).To(BeFalse())
}

func TestMatchEngine_CleanupEvictsTerminatedMatches(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, _ := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	suicidal := &scriptedHandler{
		BaseMatchHandler: BaseMatchHandler{Name: "one-shot"},
		loopFn: func(ctx *MatchContext, state *models.MatchState, messages []*models.MatchMessage) (*models.MatchState, error) {
			return nil, nil
		},
	}
	g.Expect(eng.RegisterHandler(g.TestScope, suicidal)).To(Succeed())

	matchID, err := eng.CreateMatch(g.TestScope, "one-shot", nil)
	g.Expect(err).ToNot(HaveOccurred())

	instance, ok := eng.GetMatch(matchID)
	g.Expect(ok).To(BeTrue())
	g.Eventually(instance.IsTerminated, "3s", "10ms").Should(BeTrue())

	eng.CleanupMatches(g.TestScope)

	_, stillThere := eng.GetMatch(matchID)
	g.Expect(stillThere).To(BeFalse())
	g.Expect(eng.MatchCount()).To(Equal(0))
}

func TestMatchEngine_ListMatchesFiltersAndLimits(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, _ := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	g.Expect(eng.RegisterHandler(g.TestScope, &scriptedHandler{BaseMatchHandler: BaseMatchHandler{Name: "arena"}})).To(Succeed())

	for i := 0; i < 3; i++ {
		_, err := eng.CreateMatch(g.TestScope, "duel", nil)
		g.Expect(err).ToNot(HaveOccurred())
	}
	_, err := eng.CreateMatch(g.TestScope, "arena", nil)
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(eng.ListMatches("", 0)).To(HaveLen(4))
	g.Expect(eng.ListMatches("duel", 0)).To(HaveLen(3))
	g.Expect(eng.ListMatches("", 2)).To(HaveLen(2))
	g.Expect(eng.ListMatches("arena", 0)[0].HandlerName).To(Equal("arena"))
}

func TestMatchEngine_MatchStateReturnsIndependentCopy(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, _ := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	matchID, err := eng.CreateMatch(g.TestScope, "duel", nil)
	g.Expect(err).ToNot(HaveOccurred())

	snapshot, err := eng.MatchState(matchID)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(snapshot.MatchID).To(Equal(matchID))

	snapshot.GameData["intruder"] = true

	fresh, err := eng.MatchState(matchID)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(fresh.GameData).ToNot(HaveKey("intruder"))

	_, err = eng.MatchState("missing")
	g.Expect(err).To(MatchError(ErrMatchNotFound))
}

func TestMatchEngine_TerminateMatchRemovesFromRegistry(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)

	eng, _ := newTestEngine(g, nil)
	defer func() { g.Expect(eng.Stop(g.TestScope)).To(Succeed()) }()

	matchID, err := eng.CreateMatch(g.TestScope, "duel", nil)
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(eng.TerminateMatch(g.TestScope, matchID, 0)).To(BeTrue())
	g.Expect(eng.MatchCount()).To(BeZero())

	g.Expect(eng.TerminateMatch(g.TestScope, matchID, 0)).To(BeFalse())
}
