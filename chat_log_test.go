package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func isolateChatLog(t *testing.T) {
	t.Helper()
	saved := gs
	t.Cleanup(func() {
		gs = saved
		setChatLogUser("")
	})
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	gs.ChatLogs = true
}

func readOnlyChatLog(t *testing.T, user string) string {
	t.Helper()
	var content string
	root := filepath.Join("Chat Logs", user)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		content = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return content
}

func TestAppendChatLog(t *testing.T) {
	isolateChatLog(t)
	setChatLogUser("777001")
	appendChatLog("[Alice] hello there")
	appendChatLog("[Bob] hi")

	content := readOnlyChatLog(t, "777001")
	if !strings.Contains(content, "[Alice] hello there") || !strings.Contains(content, "[Bob] hi") {
		t.Fatalf("log content: %q", content)
	}
	if !strings.Contains(content, "=== Session started") {
		t.Fatalf("missing session header: %q", content)
	}
}

func TestAppendChatLogDisabled(t *testing.T) {
	isolateChatLog(t)
	gs.ChatLogs = false
	setChatLogUser("777001")
	appendChatLog("[Alice] hello")
	if _, err := os.Stat("Chat Logs"); !os.IsNotExist(err) {
		t.Fatalf("log written while disabled")
	}
}

func TestAppendChatLogNoUser(t *testing.T) {
	isolateChatLog(t)
	setChatLogUser("")
	appendChatLog("[Alice] hello")
	if _, err := os.Stat("Chat Logs"); !os.IsNotExist(err) {
		t.Fatalf("log written without a user")
	}
}
