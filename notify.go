package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/gen2brain/beeep"
	"golang.org/x/time/rate"

	"goclash/ccproto"
)

// notifyChatLimiter throttles keyword notifications; applySettings builds
// it from the configured cooldown. Nil disables the throttle.
var notifyChatLimiter *rate.Limiter

// notifyDesktop sends a best-effort desktop notification. Failures only
// reach the debug log.
func notifyDesktop(title, message string) {
	if runtime.GOOS == "linux" {
		if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
			logDebug("skipping notification, no display: %s", title)
			return
		}
	}
	if err := beeep.Notify(title, message, ""); err != nil {
		logDebug("notification failed: %v", err)
	}
}

// matchKeyword returns the first configured keyword found in text,
// case-insensitively.
func matchKeyword(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func maybeNotify(ev ccproto.ChatEvent) {
	if !gs.Notifications || len(gs.NotifyKeywords) == 0 {
		return
	}
	kw, ok := matchKeyword(ev.Sender+" "+ev.Text, gs.NotifyKeywords)
	if !ok {
		return
	}
	if notifyChatLimiter != nil && !notifyChatLimiter.Allow() {
		logDebug("notification for %q suppressed by cooldown", kw)
		return
	}
	notifyDesktop("goclash", fmt.Sprintf("[%s] %s", ev.Sender, ev.Text))
}
