package main

import (
	"testing"
	"time"

	"goclash/ccproto"
)

func resetScripts(t *testing.T) {
	t.Helper()
	scriptMu.Lock()
	savedHandlers := scriptHandlers
	scriptHandlers = nil
	scriptDisabled = map[string]bool{}
	scriptMu.Unlock()
	t.Cleanup(func() {
		scriptMu.Lock()
		scriptHandlers = savedHandlers
		scriptMu.Unlock()
	})
}

func chatEvent(sender, text string) ccproto.ChatEvent {
	return ccproto.ChatEvent{Sender: sender, Text: text, Time: time.Now()}
}

func TestScriptPhraseTrigger(t *testing.T) {
	resetScripts(t)
	src := `//go:build script

package main

import "cc"

var scriptAPIVersion = 1

var hits int

func Init() {
	cc.OnPhrase("iron ore", func(sender, text string) {
		hits++
		cc.Console(sender + " mentioned ore")
	})
}
`
	loadScriptSource("oretest", []byte(src))
	if scriptDisabled["oretest"] {
		t.Fatalf("script disabled on load")
	}

	runChatTriggers(chatEvent("Alice", "selling IRON ORE cheap"))
	runChatTriggers(chatEvent("Bob", "nothing relevant"))

	scriptMu.RLock()
	n := len(scriptHandlers)
	scriptMu.RUnlock()
	if n != 1 {
		t.Fatalf("handlers: got %d want 1", n)
	}
}

func TestScriptOnChatSeesEveryMessage(t *testing.T) {
	resetScripts(t)
	got := make([]string, 0, 4)
	addChatHandler("direct", "", func(sender, text string) {
		got = append(got, sender+":"+text)
	})
	phraseHits := 0
	addChatHandler("filtered", "iron", func(sender, text string) { phraseHits++ })

	runChatTriggers(chatEvent("Alice", "one"))
	runChatTriggers(chatEvent("Bob", "Iron for sale"))
	if len(got) != 2 || got[0] != "Alice:one" || got[1] != "Bob:Iron for sale" {
		t.Fatalf("dispatch: got %v", got)
	}
	if phraseHits != 1 {
		t.Fatalf("phrase handler ran %d times, want 1", phraseHits)
	}
}

func TestScriptPanicDisablesScript(t *testing.T) {
	resetScripts(t)
	calls := 0
	addChatHandler("bomb", "", func(sender, text string) {
		panic("boom")
	})
	addChatHandler("steady", "", func(sender, text string) {
		calls++
	})

	runChatTriggers(chatEvent("Alice", "first"))
	if !scriptDisabled["bomb"] {
		t.Fatalf("panicking script not disabled")
	}
	runChatTriggers(chatEvent("Bob", "second"))
	if calls != 2 {
		t.Fatalf("surviving handler ran %d times, want 2", calls)
	}
	scriptMu.RLock()
	for _, h := range scriptHandlers {
		if h.owner == "bomb" {
			t.Fatalf("disabled script still registered")
		}
	}
	scriptMu.RUnlock()
}

func TestScriptLoadErrorIsContained(t *testing.T) {
	resetScripts(t)
	loadScriptSource("broken", []byte("package main\n\nfunc Init() { this is not go }"))
	if !scriptDisabled["broken"] {
		t.Fatalf("unparsable script not disabled")
	}
	scriptMu.RLock()
	n := len(scriptHandlers)
	scriptMu.RUnlock()
	if n != 0 {
		t.Fatalf("handlers registered by a broken script: %d", n)
	}
}

func TestScriptAPIVersionGate(t *testing.T) {
	resetScripts(t)
	src := `package main

import "cc"

var scriptAPIVersion = 99

func Init() {
	cc.OnChat(func(sender, text string) {})
}
`
	loadScriptSource("future", []byte(src))
	if !scriptDisabled["future"] {
		t.Fatalf("wrong API version accepted")
	}
}
