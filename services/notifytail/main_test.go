package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

func TestPrintFrame(t *testing.T) {
	color.NoColor = true
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	cases := []struct {
		name string
		in   string
		raw  bool
		want string
	}{
		{"homework", `{"type":"homework_notification","role":"student","notification":{"id":1,"message":"New HW"},"homework":{"title":"Algebra"}}`, false, "[homework] New HW  id=1 at 2024-05-06T07:08:09Z"},
		{"group message", `{"type":"group_message","group_id":4,"sender":{"username":"bob"},"message":"hello"}`, false, "[group 4] bob: hello"},
		{"unknown", `{"type":"quiz_started"}`, false, "unknown frame type=quiz_started"},
		{"malformed", `{`, false, "malformed frame"},
		{"raw", `{"type":"x"}`, true, `{"type":"x"}`},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		printFrame(&buf, []byte(tc.in), tc.raw, now)
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("%s: got %q, want %q", tc.name, buf.String(), tc.want)
		}
	}
}
