package model

import (
	"encoding/json"
	"testing"
)

func TestIDAcceptsNumberAndString(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":42,"b":"n-7","c":null}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != "42" || v.B != "n-7" || v.C != "" {
		t.Errorf("unexpected ids: %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a":{}}`), &v); err == nil {
		t.Error("expected error for object id")
	}
}

func TestIDNormalizesIntegralFloats(t *testing.T) {
	cases := map[string]ID{`1`: "1", `1.0`: "1", `-3.00`: "-3", `1e3`: "1000", `2.5`: "2.5"}
	for raw, want := range cases {
		var id ID
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if id != want {
			t.Errorf("%s: expected %q, got %q", raw, want, id)
		}
	}
}

func TestNotificationHistoryShape(t *testing.T) {
	var n Notification
	data := `{"id":9,"message":"Old HW","is_read":true,"created_at":"2024-03-01T10:00:00Z"}`
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		t.Fatal(err)
	}
	if n.ID != "9" || !n.Read || n.Timestamp != "2024-03-01T10:00:00Z" || n.Type != NotificationUnknown {
		t.Errorf("unexpected notification: %+v", n)
	}
}
