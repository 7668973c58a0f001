package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"goclash/ccproto"
)

var sessionStart = time.Now()

func statusLine(s *ccproto.Session) string {
	st := s.Stats()
	up := durafmt.Parse(time.Since(sessionStart).Truncate(time.Second)).LimitFirstN(2)
	return fmt.Sprintf("%s, up %s: %d chat messages, %d frames, %s received, %d reconnects",
		s.State(), up, st.Chats, st.Frames, humanize.Bytes(st.Bytes), st.Reconnects)
}

// runStatusTicker prints a periodic one-line summary while the session
// runs. A zero interval disables it.
func runStatusTicker(ctx context.Context, s *ccproto.Session) {
	if gs.StatusIntervalSec <= 0 {
		return
	}
	t := time.NewTicker(time.Duration(gs.StatusIntervalSec) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			consoleStatus(statusLine(s))
		}
	}
}

func printFinalSummary(s *ccproto.Session) {
	st := s.Stats()
	up := durafmt.Parse(time.Since(sessionStart).Truncate(time.Second)).LimitFirstN(2)
	consoleStatus(fmt.Sprintf("session over after %s: %d chat messages, %s received, %d reconnects",
		up, st.Chats, humanize.Bytes(st.Bytes), st.Reconnects))
}
