package discolog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFilteringSuppressesBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("quiet")
	l.Info("also quiet")
	if buf.Len() != 0 {
		t.Fatalf("buf = %q, want nothing logged below LevelWarn", buf.String())
	}

	l.Warn("loud")
	if !strings.Contains(buf.String(), "[WARN] loud") {
		t.Fatalf("buf = %q, want a [WARN] line", buf.String())
	}
}

func TestFormatArgsKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Output: &buf})

	l.Info("connected", "broker", "127.0.0.1:1883", "id", "c1")
	got := buf.String()
	if !strings.Contains(got, "connected broker=127.0.0.1:1883 id=c1") {
		t.Fatalf("buf = %q, want key=value pairs appended in order", got)
	}
}

func TestNewWithNilConfigDefaultsToInfoStderr(t *testing.T) {
	l := New(nil)
	if l.level != LevelInfo {
		t.Fatalf("level = %v, want LevelInfo", l.level)
	}
}

func TestTransitionLogsFromAndToStates(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelInfo, Output: &buf})

	l.Transition("connack", "connecting", "connected")
	got := buf.String()
	if !strings.Contains(got, "state change event=connack from=connecting to=connected") {
		t.Fatalf("buf = %q, want a state-change line with event/from/to fields", got)
	}
}

func TestPacketLogsKindIDAndSize(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Output: &buf})

	l.Packet("out", "PUBLISH", 7, 42)
	got := buf.String()
	if !strings.Contains(got, "packet dir=out kind=PUBLISH id=7 bytes=42") {
		t.Fatalf("buf = %q, want a packet trace line with dir/kind/id/bytes fields", got)
	}
}

func TestSetDefaultReplacesPackageLogger(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New(&Config{Level: LevelDebug, Output: &buf}))
	defer SetDefault(New(DefaultConfig()))

	Info("hello")
	if !strings.Contains(buf.String(), "[INFO] hello") {
		t.Fatalf("buf = %q, want the package-level Info call routed through the new default", buf.String())
	}
}
