package logging

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLogOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)
	fn()
	return buf.String()
}

func TestFilterPerModuleOverride(t *testing.T) {
	f := NewFilter("warn,scraper=debug")
	out := captureLogOutput(t, func() {
		f.For("fetcher").Info("fetcher info message")
		f.For("scraper").Debug("scraper debug message")
	})
	assert.NotContains(t, out, "fetcher info message", "fetcher has no override, so it uses the warn default and suppresses info")
	assert.Contains(t, out, "scraper debug message", "scraper's override raises its level to debug")
}

func TestFilterBareLevelSetsDefault(t *testing.T) {
	f := NewFilter("debug")
	out := captureLogOutput(t, func() {
		f.For("anything").Debug("a debug message")
	})
	assert.Contains(t, out, "a debug message")
}

func TestFilterUnknownSpecDefaultsToInfo(t *testing.T) {
	f := NewFilter("")
	out := captureLogOutput(t, func() {
		f.For("x").Debug("should be suppressed")
		f.For("x").Info("should appear")
	})
	assert.NotContains(t, out, "should be suppressed")
	assert.Contains(t, out, "should appear")
}

func TestStandardLoggerRespectsLevel(t *testing.T) {
	l := New("warn")
	out := captureLogOutput(t, func() {
		l.Info("info message")
		l.Warn("warn message")
		l.Error("error message")
	})
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestStandardLoggerSetLevel(t *testing.T) {
	l := New("error")
	out := captureLogOutput(t, func() {
		l.Info("before raising level")
	})
	assert.NotContains(t, out, "before raising level")

	l.SetLevel("debug")
	out = captureLogOutput(t, func() {
		l.Debug("after raising level")
	})
	assert.Contains(t, out, "after raising level")
}
