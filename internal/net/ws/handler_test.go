package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"maps-and-minis/server/internal/auth"
	"maps-and-minis/server/internal/geom"
	"maps-and-minis/server/internal/net/proto"
	"maps-and-minis/server/internal/session"
	"maps-and-minis/server/internal/store"
)

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	mu            sync.Mutex
	inbound       chan []byte
	sent          [][]byte
	closed        bool
	writeDeadline time.Time
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errConnClosed
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	f.mu.Lock()
	f.writeDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeConn) push(t *testing.T, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	f.inbound <- data
}

func (f *fakeConn) frames() []map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]json.RawMessage, 0, len(f.sent))
	for _, data := range f.sent {
		var frame map[string]json.RawMessage
		if json.Unmarshal(data, &frame) == nil {
			out = append(out, frame)
		}
	}
	return out
}

func (f *fakeConn) waitForFrame(t *testing.T, msgType string) map[string]json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, frame := range f.frames() {
			var got string
			json.Unmarshal(frame["type"], &got)
			if got == msgType {
				return frame
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s frame within deadline", msgType)
	return nil
}

// stallingConn simulates a peer whose socket buffer filled: once stalled,
// writes block until the deadline the caller set, then fail.
type stallingConn struct {
	*fakeConn
	stallMu sync.Mutex
	stalled bool
}

func (s *stallingConn) stall() {
	s.stallMu.Lock()
	s.stalled = true
	s.stallMu.Unlock()
}

func (s *stallingConn) WriteMessage(messageType int, data []byte) error {
	s.stallMu.Lock()
	stalled := s.stalled
	s.stallMu.Unlock()
	if !stalled {
		return s.fakeConn.WriteMessage(messageType, data)
	}
	s.fakeConn.mu.Lock()
	deadline := s.fakeConn.writeDeadline
	s.fakeConn.mu.Unlock()
	if wait := time.Until(deadline); wait > 0 {
		time.Sleep(wait)
	}
	return errConnClosed
}

func envelope(msgType string, payload any) map[string]any {
	frame := map[string]any{"type": msgType}
	if payload != nil {
		frame["payload"] = payload
	}
	return frame
}

type testRig struct {
	handler  *Handler
	sessions *session.Manager
	registry *Registry
}

func newTestRig() *testRig {
	sessions := session.NewManager(store.New(), nil, 0)
	registry := NewRegistry()
	handler := NewHandler(sessions, registry, HandlerConfig{})
	return &testRig{handler: handler, sessions: sessions, registry: registry}
}

func (r *testRig) connect(t *testing.T, userID string, gm bool) *fakeConn {
	t.Helper()
	fc := newFakeConn()
	go r.handler.serve(auth.Identity{UserID: userID, DisplayName: userID, GameMaster: gm}, fc)
	fc.waitForFrame(t, proto.TypeConnectionEstablished)
	return fc
}

func (r *testRig) join(t *testing.T, fc *fakeConn, gameID string) {
	t.Helper()
	fc.push(t, envelope(proto.TypeJoinGame, proto.JoinGamePayload{GameID: gameID}))
	fc.waitForFrame(t, proto.TypeGameState)
}

func TestServeGreetsAndJoins(t *testing.T) {
	rig := newTestRig()
	fc := rig.connect(t, "alice", false)
	rig.join(t, fc, "g1")

	if rig.registry.Count() != 1 {
		t.Fatalf("registry count = %d", rig.registry.Count())
	}
	sess, ok := rig.sessions.Get("g1")
	if !ok {
		t.Fatal("join did not create the session")
	}
	if _, ok := sess.Participant("alice"); !ok {
		t.Fatal("participant not registered")
	}
	fc.Close()
}

func TestTokenAddReachesOtherClientsViaDelta(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	player := rig.connect(t, "alice", false)
	rig.join(t, gm, "g1")
	rig.join(t, player, "g1")

	gm.push(t, envelope(proto.TypeTokenAdd, proto.TokenAddPayload{TokenID: "orc", X: 120, Y: 80}))

	// The add is journaled synchronously; wait until the session reflects
	// it before fanning out deltas.
	sess, _ := rig.sessions.Get("g1")
	deadline := time.Now().Add(2 * time.Second)
	for sess.Sequence() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rig.handler.broadcastDeltas()
	frame := player.waitForFrame(t, proto.TypeStateDelta)
	if !json.Valid(frame["payload"]) {
		t.Fatal("delta frame carried invalid payload")
	}
	var body struct {
		Updates []struct {
			Entity *struct {
				EntityID string `json:"entityId"`
			} `json:"entity"`
		} `json:"updates"`
	}
	if err := json.Unmarshal(frame["payload"], &body); err != nil {
		t.Fatalf("decode delta payload: %v", err)
	}
	if len(body.Updates) != 1 || body.Updates[0].Entity == nil || body.Updates[0].Entity.EntityID != "orc" {
		t.Fatalf("delta updates = %+v", body.Updates)
	}

	gm.Close()
	player.Close()
}

func TestDuplicateCommandSeqSuppressed(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	rig.join(t, gm, "g1")

	add := envelope(proto.TypeTokenAdd, proto.TokenAddPayload{X: 100, Y: 100})
	add["seq"] = 7
	gm.push(t, add)
	gm.push(t, add)
	// A later command proves the duplicate was skipped, not queued behind.
	gm.push(t, envelope(proto.TypePing, proto.PingPayload{ClientTime: 1}))
	gm.waitForFrame(t, proto.TypePong)

	sess, _ := rig.sessions.Get("g1")
	full, err := sess.FullSyncFor("gm")
	if err != nil {
		t.Fatalf("FullSyncFor: %v", err)
	}
	if len(full.Data.State.Tokens) != 1 {
		t.Fatalf("token count = %d, want 1 after duplicate suppression", len(full.Data.State.Tokens))
	}
	gm.Close()
}

func TestUnknownMessageTypeRelayedNotDropped(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	player := rig.connect(t, "alice", false)
	rig.join(t, gm, "g1")
	rig.join(t, player, "g1")

	player.push(t, envelope("TACTICAL_OVERLAY", map[string]any{"mode": "flanking"}))
	frame := gm.waitForFrame(t, "TACTICAL_OVERLAY")
	if frame == nil {
		t.Fatal("unknown type was not relayed")
	}

	gm.Close()
	player.Close()
}

func TestRejectedUpdateReturnsError(t *testing.T) {
	rig := newTestRig()
	player := rig.connect(t, "alice", false)
	rig.join(t, player, "g1")

	// No such token, so the move fails validation inside the session.
	player.push(t, envelope(proto.TypeTokenMove, proto.TokenMovePayload{TokenID: "ghost", X: 10, Y: 10}))
	frame := player.waitForFrame(t, proto.TypeError)
	var payload proto.ErrorPayload
	if err := json.Unmarshal(frame["payload"], &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != "UPDATE_REJECTED" {
		t.Fatalf("error code = %s", payload.Code)
	}
	player.Close()
}

func TestWhisperOnlyReachesItsAudience(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	alice := rig.connect(t, "alice", false)
	bob := rig.connect(t, "bob", false)
	rig.join(t, gm, "g1")
	rig.join(t, alice, "g1")
	rig.join(t, bob, "g1")

	alice.push(t, envelope(proto.TypeChatMessage, proto.ChatMessagePayload{Text: "psst", To: "gm"}))
	gm.waitForFrame(t, proto.TypeChatBroadcast)

	// Bob must not see the whisper; a follow-up ping flushes his queue so
	// the check is not racing the relay.
	bob.push(t, envelope(proto.TypePing, proto.PingPayload{ClientTime: 1}))
	bob.waitForFrame(t, proto.TypePong)
	for _, frame := range bob.frames() {
		var got string
		json.Unmarshal(frame["type"], &got)
		if got == proto.TypeChatBroadcast {
			t.Fatal("whisper leaked to a bystander")
		}
	}

	gm.Close()
	alice.Close()
	bob.Close()
}

func TestGameMasterDisconnectPausesSession(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	player := rig.connect(t, "alice", false)
	rig.join(t, gm, "g1")
	rig.join(t, player, "g1")

	gm.Close()
	player.waitForFrame(t, proto.TypeSessionPaused)

	sess, _ := rig.sessions.Get("g1")
	paused, reason := sess.Paused()
	if !paused || reason == "" {
		t.Fatalf("paused=%v reason=%q", paused, reason)
	}

	// A returning game master resumes play.
	gm2 := rig.connect(t, "gm", true)
	rig.join(t, gm2, "g1")
	player.waitForFrame(t, proto.TypeSessionResumed)
	if paused, _ := sess.Paused(); paused {
		t.Fatal("session still paused after gm rejoin")
	}

	gm2.Close()
	player.Close()
}

func TestStalledClientDoesNotWedgeBroadcast(t *testing.T) {
	restore := writeWait
	writeWait = 50 * time.Millisecond
	defer func() { writeWait = restore }()

	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	rig.join(t, gm, "g1")

	sc := &stallingConn{fakeConn: newFakeConn()}
	go rig.handler.serve(auth.Identity{UserID: "alice", DisplayName: "alice"}, sc)
	sc.waitForFrame(t, proto.TypeConnectionEstablished)
	sc.push(t, envelope(proto.TypeJoinGame, proto.JoinGamePayload{GameID: "g1"}))
	sc.waitForFrame(t, proto.TypeGameState)
	sc.stall()

	gm.push(t, envelope(proto.TypeTokenAdd, proto.TokenAddPayload{TokenID: "orc", X: 100, Y: 100}))
	sess, _ := rig.sessions.Get("g1")
	deadline := time.Now().Add(2 * time.Second)
	for sess.Sequence() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		rig.handler.broadcastDeltas()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast pass blocked on one stalled connection")
	}

	// The healthy client still got its delta and the stalled one was
	// evicted rather than left wedging future passes.
	gm.waitForFrame(t, proto.TypeStateDelta)
	deadline = time.Now().Add(2 * time.Second)
	for rig.registry.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rig.registry.Count(); got != 1 {
		t.Fatalf("registry count = %d, want 1 after evicting the stalled client", got)
	}
	gm.Close()
}

func TestMoveRelayedWithServerResolvedPosition(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	player := rig.connect(t, "alice", false)
	rig.join(t, gm, "g1")
	rig.join(t, player, "g1")

	gm.push(t, envelope(proto.TypeTokenAdd, proto.TokenAddPayload{TokenID: "hero", X: 100, Y: 100}))
	player.waitForFrame(t, proto.TypeTokenAdded)

	// The raw request lands off-grid; the relay must carry the snapped
	// position, not the requested one.
	gm.push(t, envelope(proto.TypeTokenMove, proto.TokenMovePayload{TokenID: "hero", X: 123, Y: 77}))
	frame := player.waitForFrame(t, proto.TypeTokenMoved)
	var ev proto.TokenEvent
	if err := json.Unmarshal(frame["payload"], &ev); err != nil {
		t.Fatalf("decode token event: %v", err)
	}
	if ev.TokenID != "hero" || ev.X != 100 || ev.Y != 100 {
		t.Fatalf("relayed event = %+v, want the snapped (100, 100)", ev)
	}
	if ev.Sequence == 0 {
		t.Fatal("relayed event missing its sequence id")
	}

	gm.Close()
	player.Close()
}

func TestHiddenTokenAddNotAnnouncedToPlayers(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	player := rig.connect(t, "alice", false)
	rig.join(t, gm, "g1")
	rig.join(t, player, "g1")

	gm.push(t, envelope(proto.TypeTokenAdd, proto.TokenAddPayload{TokenID: "ambush", X: 300, Y: 300, Hidden: true}))
	gm.waitForFrame(t, proto.TypeTokenAdded)

	// A follow-up ping flushes the player's queue so the check is not
	// racing the relay.
	player.push(t, envelope(proto.TypePing, proto.PingPayload{ClientTime: 1}))
	player.waitForFrame(t, proto.TypePong)
	for _, frame := range player.frames() {
		var got string
		json.Unmarshal(frame["type"], &got)
		if got == proto.TypeTokenAdded {
			t.Fatal("hidden token announced to a player")
		}
	}

	gm.Close()
	player.Close()
}

func TestSceneUpdateBroadcastToSession(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	player := rig.connect(t, "alice", false)
	rig.join(t, gm, "g1")
	rig.join(t, player, "g1")

	gm.push(t, envelope(proto.TypeSceneUpdate, proto.SceneUpdatePayload{SceneName: "Crypt"}))
	frame := player.waitForFrame(t, proto.TypeSceneUpdated)
	var payload proto.SceneUpdatedPayload
	if err := json.Unmarshal(frame["payload"], &payload); err != nil {
		t.Fatalf("decode scene update: %v", err)
	}
	if payload.SceneName != "Crypt" || payload.PlayerID != "gm" {
		t.Fatalf("scene update payload = %+v", payload)
	}

	gm.Close()
	player.Close()
}

func TestEffectSpawnOverWireEntersStateAndLog(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	rig.join(t, gm, "g1")

	gm.push(t, envelope(proto.TypeEffectSpawn, proto.EffectSpawnPayload{
		Kind:  "fireball",
		Shape: geom.Shape{Kind: geom.KindCircle, Radius: 30},
		Pos:   geom.Vec{X: 100, Y: 100},
	}))

	sess, _ := rig.sessions.Get("g1")
	deadline := time.Now().Add(2 * time.Second)
	for sess.Sequence() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	full, err := sess.FullSyncFor("gm")
	if err != nil {
		t.Fatalf("FullSyncFor: %v", err)
	}
	if len(full.Data.State.Effects) != 1 || full.Data.State.Effects[0].OwnerID != "gm" {
		t.Fatalf("effects after spawn = %+v", full.Data.State.Effects)
	}

	// The spawn rides the delta stream like any other mutation.
	delta, ok := sess.DeltaFor("gm", 0)
	if !ok || len(delta.Data.Updates) != 1 || delta.Data.Updates[0].Effect == nil {
		t.Fatalf("delta updates = %+v", delta.Data.Updates)
	}

	gm.Close()
}

func TestUserFanOutReachesEveryConnection(t *testing.T) {
	rig := newTestRig()
	gm := rig.connect(t, "gm", true)
	tab1 := rig.connect(t, "alice", false)
	tab2 := rig.connect(t, "alice", false)
	rig.join(t, gm, "g1")
	rig.join(t, tab1, "g1")
	rig.join(t, tab2, "g1")

	gm.push(t, envelope(proto.TypeChatMessage, proto.ChatMessagePayload{Text: "roll initiative"}))
	tab1.waitForFrame(t, proto.TypeChatBroadcast)
	tab2.waitForFrame(t, proto.TypeChatBroadcast)

	gm.Close()
	tab1.Close()
	tab2.Close()
}

func TestSweepEvictsSilentConnections(t *testing.T) {
	rig := newTestRig()
	fc := rig.connect(t, "alice", false)
	rig.join(t, fc, "g1")

	rig.handler.sweepStale(time.Now().Add(PingSweepInterval * staleFactor * 2))
	deadline := time.Now().Add(2 * time.Second)
	for rig.registry.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rig.registry.Count(); got != 0 {
		t.Fatalf("registry count after sweep = %d", got)
	}
}

func TestPingMeasuresRoundTrip(t *testing.T) {
	rig := newTestRig()
	fc := rig.connect(t, "alice", false)
	sent := time.Now().Add(-25 * time.Millisecond).UnixMilli()
	fc.push(t, envelope(proto.TypePing, proto.PingPayload{ClientTime: sent}))
	frame := fc.waitForFrame(t, proto.TypePong)

	var pong proto.Pong
	if err := json.Unmarshal(frame["payload"], &pong); err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if pong.ClientTime != sent || pong.RTTMillis < 25 {
		t.Fatalf("pong = %+v", pong)
	}
	fc.Close()
}

func TestRegistryTracksSessionMembership(t *testing.T) {
	rig := newTestRig()
	conns := make([]*fakeConn, 0, 3)
	for i := 0; i < 3; i++ {
		fc := rig.connect(t, fmt.Sprintf("user-%d", i), false)
		rig.join(t, fc, "g1")
		conns = append(conns, fc)
	}
	sess, _ := rig.sessions.Get("g1")
	if got := rig.registry.SessionCount(sess.ID()); got != 3 {
		t.Fatalf("session count = %d", got)
	}

	conns[0].push(t, envelope(proto.TypeLeaveGame, nil))
	deadline := time.Now().Add(2 * time.Second)
	for rig.registry.SessionCount(sess.ID()) != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rig.registry.SessionCount(sess.ID()); got != 2 {
		t.Fatalf("session count after leave = %d", got)
	}
	for _, fc := range conns {
		fc.Close()
	}
}
