package main

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"circuitmap/internal/resolver"
)

const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// statusLine colors the first line of a result message by status. Later
// lines carry guidance and stay uncolored.
func statusLine(status resolver.Status, message string, colorize bool) string {
	if !colorize {
		return message
	}
	color := ansiGreen
	switch status {
	case resolver.StatusSkipped:
		color = ansiYellow
	case resolver.StatusFailed:
		color = ansiRed
	}
	first, rest, found := strings.Cut(message, "\n")
	line := color + first + ansiReset
	if found {
		line += "\n" + rest
	}
	return line
}

func colorText(text, color string, colorize bool) string {
	if !colorize {
		return text
	}
	return color + text + ansiReset
}
