package backend

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	mockedHTTPClient := &http.Client{}
	httpmock.ActivateNonDefault(mockedHTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	c := NewClient("https://school.test/api/", "tok123", time.Second)
	c.httpClient = mockedHTTPClient
	return c
}

func TestFetchNotificationsList(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, "https://school.test/api/studentnotifications/",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Token tok123" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, []map[string]any{
				{"id": 3, "message": "Old HW", "is_read": true, "type": "homework"},
				{"id": "x-1", "message": "Older", "is_read": false},
			})
		},
	)

	list, err := c.FetchNotifications(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
	if list[0].ID != "3" || !list[0].Read || list[0].Type != "homework" {
		t.Errorf("unexpected first notification: %+v", list[0])
	}
	if list[1].ID != "x-1" || list[1].Read {
		t.Errorf("unexpected second notification: %+v", list[1])
	}
}

func TestFetchNotificationsPaginated(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, "https://school.test/api/studentnotifications/",
		httpmock.NewStringResponder(http.StatusOK, `{"count":1,"results":[{"id":8,"message":"Paged"}]}`))

	list, err := c.FetchNotifications(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "8" {
		t.Errorf("unexpected page: %+v", list)
	}
}

func TestMarkRead(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "https://school.test/api/notifications/12/read/",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"ok"}`))
	httpmock.RegisterResponder(http.MethodPost, "https://school.test/api/notifications/13/read/",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":"boom"}`))

	if err := c.MarkRead(context.Background(), "12"); err != nil {
		t.Fatal(err)
	}
	err := c.MarkRead(context.Background(), "13")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("expected status error 500, got %v", err)
	}
	if n := httpmock.GetTotalCallCount(); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient("", "", 0)
	if err := c.MarkRead(context.Background(), "1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := c.FetchNotifications(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
