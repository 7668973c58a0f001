//go:build script

package main

import (
	"strconv"

	"cc"
)

// Chat Counter – prints a running message count every 100 broadcasts.

var scriptAPIVersion = 1

var seen int

func Init() {
	cc.OnChat(func(sender, text string) {
		seen++
		if seen%100 == 0 {
			cc.Console("seen " + strconv.Itoa(seen) + " messages this session")
		}
	})
}
