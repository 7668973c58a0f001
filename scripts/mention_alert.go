//go:build script

package main

import "cc"

// Mention Alert – pops a desktop notification whenever someone says
// "goclash" in world chat, regardless of the keyword settings.

var scriptAPIVersion = 1

func Init() {
	cc.OnPhrase("goclash", func(sender, text string) {
		cc.Notify("goclash", "["+sender+"] "+text)
	})
}
