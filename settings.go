package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/time/rate"
)

const SETTINGS_VERSION = 1

const settingsFile = "settings.json"

type settings struct {
	Version int

	ConsoleTimestamps bool
	TimestampFormat   string
	NoColor           bool

	ChatLogs bool

	Notifications   bool
	NotifyKeywords  []string
	NotifyCooldown  int // seconds between desktop notifications
	NotifyOnAbandon bool

	DiscordPresence bool

	ScriptsDir string

	PollIntervalMS int
	RetryCeiling   int
	BackoffBaseMS  int
	BackoffMaxMS   int
	MaxFrameKB     int

	StatusIntervalSec int
}

var gs settings = gsdef

// settingsLoaded reports whether settings were successfully loaded from disk.
var settingsLoaded bool

var gsdef settings = settings{
	Version: SETTINGS_VERSION,

	ConsoleTimestamps: true,
	TimestampFormat:   "3:04PM",

	ChatLogs: true,

	Notifications:   true,
	NotifyKeywords:  []string{},
	NotifyCooldown:  10,
	NotifyOnAbandon: true,

	DiscordPresence: false,

	ScriptsDir: "scripts",

	PollIntervalMS: 500,
	RetryCeiling:   5,
	BackoffBaseMS:  1000,
	BackoffMaxMS:   30000,
	MaxFrameKB:     64,

	StatusIntervalSec: 300,
}

func loadSettings() bool {
	data, err := os.ReadFile(settingsFile)
	if err != nil {
		gs = gsdef
		settingsLoaded = false
		return false
	}

	tmp := gsdef
	if err := json.Unmarshal(data, &tmp); err != nil {
		logWarn("unable to parse %s: %v", settingsFile, err)
		gs = gsdef
		settingsLoaded = false
		return false
	}

	if tmp.Version == SETTINGS_VERSION {
		gs = tmp
		settingsLoaded = true
	} else {
		logWarn("%s is version %d, want %d; using defaults", settingsFile, tmp.Version, SETTINGS_VERSION)
		gs = gsdef
		settingsLoaded = false
		return false
	}

	if gs.NotifyKeywords == nil {
		gs.NotifyKeywords = append([]string(nil), gsdef.NotifyKeywords...)
	}
	if gs.TimestampFormat == "" {
		gs.TimestampFormat = gsdef.TimestampFormat
	}
	if gs.NotifyCooldown < 0 {
		gs.NotifyCooldown = gsdef.NotifyCooldown
	}
	if gs.PollIntervalMS < 100 || gs.PollIntervalMS > 60000 {
		gs.PollIntervalMS = gsdef.PollIntervalMS
	}
	if gs.RetryCeiling < 1 || gs.RetryCeiling > 100 {
		gs.RetryCeiling = gsdef.RetryCeiling
	}
	if gs.BackoffBaseMS < 10 {
		gs.BackoffBaseMS = gsdef.BackoffBaseMS
	}
	if gs.BackoffMaxMS < gs.BackoffBaseMS {
		gs.BackoffMaxMS = gsdef.BackoffMaxMS
	}
	if gs.MaxFrameKB < 1 || gs.MaxFrameKB > 64 {
		gs.MaxFrameKB = gsdef.MaxFrameKB
	}
	if gs.StatusIntervalSec < 0 {
		gs.StatusIntervalSec = gsdef.StatusIntervalSec
	}
	return settingsLoaded
}

func applySettings() {
	if gs.NoColor {
		color.NoColor = true
	}
	interval := time.Duration(gs.NotifyCooldown) * time.Second
	if interval <= 0 {
		notifyChatLimiter = nil
	} else {
		notifyChatLimiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

func saveSettings() {
	gs.Version = SETTINGS_VERSION
	data, err := json.MarshalIndent(&gs, "", "  ")
	if err != nil {
		logError("unable to encode settings: %v", err)
		return
	}
	tmp := settingsFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logError("unable to write %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, settingsFile); err != nil {
		logError("unable to replace %s: %v", settingsFile, err)
	}
}
