package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	client "github.com/hugolgst/rich-go/client"
)

var discordStart time.Time
var discordReady bool
var discordChats atomic.Uint64

func initDiscordRPC(ctx context.Context) {
	if err := client.Login("1406171210240360508"); err != nil {
		logDebug("discord rpc login: %v", err)
		return
	}
	discordReady = true
	discordStart = time.Now()
	setDiscordStatus("connecting")
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				client.Logout()
				return
			case <-t.C:
				setDiscordStatus(fmt.Sprintf("%d messages seen", discordChats.Load()))
			}
		}
	}()
}

func setDiscordStatus(detail string) {
	if !discordReady {
		return
	}
	if err := client.SetActivity(client.Activity{
		State:   "watching world chat",
		Details: detail,
		Timestamps: &client.Timestamps{
			Start: &discordStart,
		},
	}); err != nil {
		logDebug("discord rpc activity: %v", err)
	}
}

// discordChatSeen bumps the presence counter; the ticker publishes it.
func discordChatSeen() {
	discordChats.Add(1)
}
