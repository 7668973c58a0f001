package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"goclash/ccproto"
)

// Scripts are plain Go files interpreted with yaegi. Each script imports
// the "cc" package exported below, registers chat handlers from Init, and
// runs on every dispatched broadcast message.

const scriptAPICurrentVersion = 1

type chatHandler struct {
	owner string
	// phrase filters messages to those containing it (lowercased);
	// empty matches every message.
	phrase string
	fn     func(sender, text string)
}

var (
	scriptMu       sync.RWMutex
	scriptHandlers []chatHandler
	scriptDisabled = map[string]bool{}
)

func addChatHandler(owner, phrase string, fn func(sender, text string)) {
	if fn == nil {
		return
	}
	scriptMu.Lock()
	scriptHandlers = append(scriptHandlers, chatHandler{
		owner:  owner,
		phrase: strings.ToLower(phrase),
		fn:     fn,
	})
	scriptMu.Unlock()
}

// disableScript drops a script and everything it registered. Used when a
// handler panics or a script fails to load.
func disableScript(owner, reason string) {
	scriptMu.Lock()
	scriptDisabled[owner] = true
	kept := scriptHandlers[:0]
	for _, h := range scriptHandlers {
		if h.owner != owner {
			kept = append(kept, h)
		}
	}
	scriptHandlers = kept
	scriptMu.Unlock()
	consoleMessage("[script] disabled " + owner + ": " + reason)
}

// scriptExports is the API surface scripts see as `import "cc"`. Yaegi
// expects keys as "importPath/pkgName".
func scriptExports(owner string) interp.Exports {
	return interp.Exports{
		"cc/cc": {
			"Console": reflect.ValueOf(func(msg string) { consoleMessage("[" + owner + "] " + msg) }),
			"Notify":  reflect.ValueOf(notifyDesktop),
			"OnChat": reflect.ValueOf(func(fn func(sender, text string)) {
				addChatHandler(owner, "", fn)
			}),
			"OnPhrase": reflect.ValueOf(func(phrase string, fn func(sender, text string)) {
				addChatHandler(owner, phrase, fn)
			}),
			"Messages": reflect.ValueOf(getConsoleMessages),
			"Lower":    reflect.ValueOf(strings.ToLower),
			"Upper":    reflect.ValueOf(strings.ToUpper),
			"Trim":     reflect.ValueOf(strings.TrimSpace),
			"Words":    reflect.ValueOf(strings.Fields),
			"Includes": reflect.ValueOf(func(s, sub string) bool {
				return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
			}),
		},
	}
}

var goBuildDirectiveRE = regexp.MustCompile(`(?m)^//go:build.*\r?\n?`)

// runChatTriggers feeds one chat event to every registered handler. A
// panicking handler disables its whole script; the loop keeps going.
func runChatTriggers(ev ccproto.ChatEvent) {
	scriptMu.RLock()
	handlers := append([]chatHandler(nil), scriptHandlers...)
	scriptMu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	lower := strings.ToLower(ev.Sender + " " + ev.Text)
	for _, h := range handlers {
		if h.phrase != "" && !strings.Contains(lower, h.phrase) {
			continue
		}
		runScriptFunc(h.owner, func() { h.fn(ev.Sender, ev.Text) })
	}
}

func runScriptFunc(owner string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logError("script %s panicked: %v", owner, r)
			disableScript(owner, fmt.Sprintf("panic: %v", r))
		}
	}()
	fn()
}

// loadScripts evaluates every .go file in the scripts directory. A missing
// directory just means no scripts.
func loadScripts() {
	dir := gs.ScriptsDir
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logWarn("scripts dir %s: %v", dir, err)
		}
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		loadScriptFile(filepath.Join(dir, name))
	}
}

func loadScriptFile(path string) {
	owner := strings.TrimSuffix(filepath.Base(path), ".go")
	src, err := os.ReadFile(path)
	if err != nil {
		logWarn("script %s: %v", path, err)
		return
	}
	loadScriptSource(owner, src)
}

func loadScriptSource(owner string, src []byte) {
	i := interp.New(interp.Options{})
	i.Use(stdlib.Symbols)
	i.Use(scriptExports(owner))
	scriptMu.Lock()
	scriptDisabled[owner] = false
	scriptMu.Unlock()

	// Build tags are for the Go toolchain only; yaegi chokes on them.
	clean := goBuildDirectiveRE.ReplaceAll(src, nil)
	if _, err := i.Eval(string(clean)); err != nil {
		logWarn("script %s: %v", owner, err)
		disableScript(owner, "load error")
		return
	}
	if v, err := i.Eval("scriptAPIVersion"); err == nil {
		if ver, ok := v.Interface().(int); ok && ver != scriptAPICurrentVersion {
			disableScript(owner, fmt.Sprintf("wants API v%d, have v%d", ver, scriptAPICurrentVersion))
			return
		}
	}
	if v, err := i.Eval("Init"); err == nil {
		if fn, ok := v.Interface().(func()); ok {
			runScriptFunc(owner, fn)
		}
	}
	consoleMessage("[script] loaded: " + owner)
}
