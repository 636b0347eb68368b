package ws

import (
	"context"
	"time"

	"maps-and-minis/server/internal/net/proto"
	"maps-and-minis/server/logging"
	loggingnetwork "maps-and-minis/server/logging/network"
)

const (
	// BroadcastRate is the delta fan-out frequency. Deltas coalesce
	// between frames, so it runs slower than the simulation tick.
	BroadcastRate = 20

	// PingSweepInterval is how often stale connections are checked.
	PingSweepInterval = 10 * time.Second

	// staleFactor multiplies the sweep interval to get the idle cutoff.
	staleFactor = 2
)

// RunDeltaBroadcast pushes pending deltas to every connected client on the
// broadcast cadence until the context is cancelled. Clients whose cursor
// fell behind a session's retained log get a full sync instead.
func (h *Handler) RunDeltaBroadcast(ctx context.Context) {
	ticker := time.NewTicker(time.Second / BroadcastRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcastDeltas()
		}
	}
}

func (h *Handler) broadcastDeltas() {
	for _, c := range h.registry.all() {
		gameID, sessionID, _ := c.session()
		if sessionID == "" {
			continue
		}
		sess, ok := h.sessions.Get(gameID)
		if !ok {
			continue
		}
		msg, ok := sess.DeltaFor(c.userID, c.deltaCursor())
		if !ok {
			if !h.sendFullSync(c) {
				continue
			}
			continue
		}
		if len(msg.Data.Updates) == 0 {
			c.storeDeltaCursor(msg.Data.Sequence)
			continue
		}
		data, err := proto.EncodeStateDelta(msg)
		if err != nil {
			continue
		}
		if err := c.send(data); err != nil {
			h.disconnect(c, "delta write failed")
			continue
		}
		c.storeDeltaCursor(msg.Data.Sequence)
	}
}

// RunPingSweep evicts connections that have been silent past the cutoff.
// The read loop notices the closed socket and finishes teardown.
func (h *Handler) RunPingSweep(ctx context.Context) {
	ticker := time.NewTicker(PingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepStale(time.Now())
		}
	}
}

func (h *Handler) sweepStale(now time.Time) {
	cutoff := PingSweepInterval * staleFactor
	for _, c := range h.registry.all() {
		if c.idleSince(now) < cutoff {
			continue
		}
		loggingnetwork.StaleEvicted(context.Background(), h.publisher,
			logging.EntityRef{ID: c.id, Kind: logging.EntityKindClient},
			loggingnetwork.ClientPayload{UserID: c.userID, Reason: "ping timeout"})
		h.disconnect(c, "ping timeout")
	}
}
