package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide call counter set.
var Stats = &stats{}

type stats struct {
	MsgsSent         atomic.Int64 // signaling messages written to the relay
	MsgsRecv         atomic.Int64 // application signaling messages read from the relay
	LocalCandidates  atomic.Int64 // ICE candidates gathered locally and relayed
	RemoteCandidates atomic.Int64 // ICE candidates received from the peer
	Negotiations     atomic.Int64 // offers or answers produced
	Resets           atomic.Int64 // negotiation handles invalidated
}

func (s *stats) AddSent()            { s.MsgsSent.Add(1) }
func (s *stats) AddRecv()            { s.MsgsRecv.Add(1) }
func (s *stats) AddLocalCandidate()  { s.LocalCandidates.Add(1) }
func (s *stats) AddRemoteCandidate() { s.RemoteCandidates.Add(1) }
func (s *stats) AddNegotiation()     { s.Negotiations.Add(1) }
func (s *stats) AddReset()           { s.Resets.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	sent, recv, local, remote, negotiations, resets int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:         s.MsgsSent.Load(),
		recv:         s.MsgsRecv.Load(),
		local:        s.LocalCandidates.Load(),
		remote:       s.RemoteCandidates.Load(),
		negotiations: s.Negotiations.Load(),
		resets:       s.Resets.Load(),
	}
}

// StartStatsReporter launches a goroutine that logs signaling activity
// every 10 seconds, skipping quiet intervals. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(prev, cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns the deltas between two snapshots for display in the logger.
func formatStats(prev, cur snapshot) string {
	return fmt.Sprintf("Signaling: %3d↑ %3d↓ | Candidates: %3d↑ %3d↓ | Negotiations: %2d | Resets: %2d",
		cur.sent-prev.sent,
		cur.recv-prev.recv,
		cur.local-prev.local,
		cur.remote-prev.remote,
		cur.negotiations-prev.negotiations,
		cur.resets-prev.resets,
	)
}
