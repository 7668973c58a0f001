package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"goclash/ccproto"
)

var silent bool

func main() {
	configPath := flag.String("config", defaultConfigFile, "account config file")
	genConfig := flag.String("genconfig", "", "extract a config file from a captured login (raw dump or pcap) and exit")
	force := flag.Bool("force", false, "let -genconfig overwrite an existing config")
	pcapPath := flag.String("pcap", "", "replay chat from a .pcap/.pcapng file instead of connecting")
	fast := flag.Bool("fast", false, "skip captured timing gaps during -pcap replay")
	debug := flag.Bool("debug", false, "verbose/debug logging")
	nocolor := flag.Bool("nocolor", false, "disable ANSI colors")
	stats := flag.Bool("stats", false, "print a session summary on exit")
	flag.BoolVar(&silent, "silent", false, "log chat to files only, keep stdout quiet")
	flag.Parse()

	if !loadSettings() {
		// first run: write the defaults out so they can be edited
		saveSettings()
	}
	if *nocolor {
		gs.NoColor = true
	}
	applySettings()
	setupLogging(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *genConfig != "" {
		if err := runGenConfig(*genConfig, *configPath, *force); err != nil {
			logError("genconfig: %v", err)
			os.Exit(1)
		}
		return
	}

	if *pcapPath != "" {
		loadScripts()
		if err := runReplay(ctx, *pcapPath, *fast); err != nil && !errors.Is(err, context.Canceled) {
			logError("replay: %v", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		logError("%v", err)
		os.Exit(1)
	}
	tmpl, err := cfg.loginTemplate()
	if err != nil {
		logError("%v", err)
		os.Exit(1)
	}
	setChatLogUser(strconv.FormatUint(cfg.UserID, 10))
	loadScripts()
	if gs.DiscordPresence {
		initDiscordRPC(ctx)
	}

	addr, err := bootstrapServer(ctx, cfg)
	if err != nil {
		logError("%v", err)
		os.Exit(1)
	}
	consoleInfo(fmt.Sprintf("connecting to %s as user %d", addr, cfg.UserID))

	sess, err := ccproto.NewSession(ccproto.Config{
		Addr:          addr,
		Creds:         cfg.credentials(),
		Template:      tmpl,
		ClientVersion: cfg.ClientVersion,
		ClientSign:    cfg.ClientSign,
		GameID:        cfg.GameID,
		LanguageID:    cfg.LanguageID,
		PollInterval:  time.Duration(gs.PollIntervalMS) * time.Millisecond,
		MaxFrameSize:  gs.MaxFrameKB * 1024,
		RetryCeiling:  gs.RetryCeiling,
		BackoffBase:   time.Duration(gs.BackoffBaseMS) * time.Millisecond,
		BackoffMax:    time.Duration(gs.BackoffMaxMS) * time.Millisecond,
		Logf:          logDebug,
		Handler: ccproto.Handler{
			OnChat:   chatMessage,
			OnStatus: sessionStatus,
		},
	})
	if err != nil {
		logError("%v", err)
		os.Exit(1)
	}

	go runStatusTicker(ctx, sess)

	err = sess.Run(ctx)
	if *stats {
		printFinalSummary(sess)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logError("session: %v", err)
		os.Exit(1)
	}
}

// sessionStatus renders the loop's out-of-band notifications.
func sessionStatus(st ccproto.Status) {
	switch st.Kind {
	case ccproto.StatusConnected:
		consoleStatus("connected, waiting for world chat")
		setDiscordStatus("watching world chat")
	case ccproto.StatusReconnecting:
		consoleWarn(fmt.Sprintf("connection lost, reconnect attempt %d: %v", st.Attempt, st.Err))
	case ccproto.StatusHandshakeRejected:
		consoleError(fmt.Sprintf("login rejected: %v", st.Err))
		consoleError("the captured access key has likely expired; recapture a login and rerun -genconfig")
	case ccproto.StatusSessionAbandoned:
		consoleError(fmt.Sprintf("giving up: %v", st.Err))
		if gs.NotifyOnAbandon {
			notifyDesktop("goclash", "session abandoned, no longer watching chat")
		}
	case ccproto.StatusDisconnected:
		consoleStatus("disconnected")
	}
}
