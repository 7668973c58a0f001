package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	chatLogPath string
	chatLogUser string
	chatLogMu   sync.Mutex
)

// setChatLogUser names the account directory chat logs rotate under.
func setChatLogUser(user string) {
	chatLogMu.Lock()
	chatLogUser = strings.TrimSpace(user)
	chatLogPath = ""
	chatLogMu.Unlock()
}

func appendChatLog(msg string) {
	if msg == "" || !gs.ChatLogs {
		return
	}

	ensureChatLog()
	if chatLogPath == "" {
		return
	}

	// Old client timestamp format: M/D/YY H:MM:SSa (no leading zeros for M/D/H)
	now := time.Now()
	hour := now.Hour()
	ampm := byte('a')
	if hour >= 12 {
		ampm = 'p'
	}
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	ts := fmt.Sprintf("%d/%d/%.2d %d:%.2d:%.2d%c ",
		int(now.Month()), now.Day(), now.Year()%100,
		hour12, now.Minute(), now.Second(), ampm,
	)

	line := strings.ReplaceAll(msg, "\r", "\n")
	line = strings.TrimRight(line, "\n")
	out := ts + line + "\n"

	f, err := os.OpenFile(chatLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	_, _ = f.WriteString(out)
	_ = f.Close()
}

// ensureChatLog initializes the per-account log path.
// Path: "Chat Logs/<user>/CC Log YYYY/MM/DD HH.MM.SS.txt"
func ensureChatLog() {
	chatLogMu.Lock()
	defer chatLogMu.Unlock()

	if chatLogPath != "" || chatLogUser == "" {
		return
	}

	userDir := filepath.Join("Chat Logs", chatLogUser)

	now := time.Now()
	year := fmt.Sprintf("%04d", now.Year())
	month := fmt.Sprintf("%02d", int(now.Month()))
	timeName := fmt.Sprintf("%02d %02d.%02d.%02d.txt", now.Day(), now.Hour(), now.Minute(), now.Second())
	yearMonthDir := filepath.Join(userDir, "CC Log "+year, month)

	if err := os.MkdirAll(yearMonthDir, 0o755); err != nil {
		return
	}
	chatLogPath = filepath.Join(yearMonthDir, timeName)

	f, err := os.OpenFile(chatLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		_, _ = f.WriteString(fmt.Sprintf("=== Session started %s for %s ===\n", now.Format(time.RFC3339), chatLogUser))
		_ = f.Close()
	}
}
