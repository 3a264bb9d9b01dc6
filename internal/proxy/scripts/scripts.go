// Package scripts embeds the JavaScript injected into proxied pages.
package scripts

import (
	_ "embed"
	"strings"
)

//go:embed capture.js
var captureJS string

// consolePlaceholder is replaced with the console capture flag.
const consolePlaceholder = "__CAPTURE_CONSOLE__"

// Capture returns the capture script with console.error capture on or off.
func Capture(captureConsole bool) string {
	flag := "false"
	if captureConsole {
		flag = "true"
	}
	return strings.Replace(captureJS, consolePlaceholder, flag, 1)
}
