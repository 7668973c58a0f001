package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"

	"goclash/ccproto"
)

const (
	maxMessages = 1000
)

var consoleLog = messageLog{max: maxMessages}

var (
	consoleMu sync.Mutex

	chatNameColor = color.New(color.FgHiWhite, color.Bold)
	infoColor     = color.New(color.FgHiGreen)
	warnColor     = color.New(color.FgHiYellow)
	errorColor    = color.New(color.FgHiRed)
	statusColor   = color.New(color.FgHiCyan)
	debugColor    = color.New(color.FgHiBlue)
)

func consolePrint(c *color.Color, msg string) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if gs.ConsoleTimestamps {
		format := gs.TimestampFormat
		if format == "" {
			format = "3:04PM"
		}
		fmt.Printf("[%s] ", time.Now().Format(format))
	}
	if c == nil {
		fmt.Println(msg)
		return
	}
	c.Println(msg)
}

func consoleMessage(msg string) {
	if msg == "" {
		return
	}
	consoleLog.Add(msg)
	if !silent {
		consolePrint(nil, msg)
	}
}

func consoleInfo(msg string)   { consoleLog.Add(msg); consolePrint(infoColor, msg) }
func consoleWarn(msg string)   { consoleLog.Add(msg); consolePrint(warnColor, msg) }
func consoleError(msg string)  { consoleLog.Add(msg); consolePrint(errorColor, msg) }
func consoleStatus(msg string) { consoleLog.Add(msg); consolePrint(statusColor, msg) }

// chatMessage is the session's chat callback: it renders one broadcast
// line and feeds the chat log, notifications, presence and scripts.
func chatMessage(ev ccproto.ChatEvent) error {
	line := fmt.Sprintf("[%s] %s", ev.Sender, ev.Text)
	consoleLog.Add(line)
	appendChatLog(line)
	if !silent {
		consoleMu.Lock()
		if gs.ConsoleTimestamps {
			format := gs.TimestampFormat
			if format == "" {
				format = "3:04PM"
			}
			fmt.Printf("[%s] ", ev.Time.Format(format))
		}
		chatNameColor.Printf("[%s] ", ev.Sender)
		fmt.Println(ev.Text)
		consoleMu.Unlock()
	}
	maybeNotify(ev)
	discordChatSeen()
	runChatTriggers(ev)
	return nil
}

func getConsoleMessages() []string {
	format := gs.TimestampFormat
	if format == "" {
		format = "3:04PM"
	}
	return consoleLog.Entries(format, gs.ConsoleTimestamps)
}
