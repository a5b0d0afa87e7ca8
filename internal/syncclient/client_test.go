package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
)

func sampleItems() []syncqueue.Item {
	now := time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)
	return []syncqueue.Item{
		{ID: "q-1", Table: "earnings", RecordID: "e-1", Action: syncqueue.ActionCreate, Payload: `{"id":"e-1","amount":200}`, CreatedAt: now},
		{ID: "q-2", Table: "notes", RecordID: "n-1", Action: syncqueue.ActionCreate, Payload: `{"id":"n-1"}`, CreatedAt: now.Add(time.Second)},
	}
}

func mustClient(t *testing.T, endpoint, apiKey string) *Client {
	t.Helper()
	client, err := New(Config{Endpoint: endpoint, APIKey: apiKey, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	return client
}

func TestPushSendsOrderedBatchWithCredentials(testContext *testing.T) {
	var received batchRequest
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			testContext.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"syncedIds":["q-1"]}`))
	}))
	defer server.Close()

	client := mustClient(testContext, server.URL+"/api/sync", "device-key")
	ack, err := client.Push(context.Background(), sampleItems())
	if err != nil {
		testContext.Fatalf("unexpected push error: %v", err)
	}
	if authorization != "Bearer device-key" {
		testContext.Fatalf("unexpected authorization header %q", authorization)
	}
	if len(received.Items) != 2 || received.Items[0].ID != "q-1" || received.Items[1].ID != "q-2" {
		testContext.Fatalf("expected ordered batch, got %+v", received.Items)
	}
	if received.Items[0].Table != "earnings" || received.Items[0].Payload != `{"id":"e-1","amount":200}` {
		testContext.Fatalf("unexpected wire item %+v", received.Items[0])
	}
	if !ack.Listed || len(ack.IDs) != 1 || ack.IDs[0] != "q-1" {
		testContext.Fatalf("unexpected acknowledgment %+v", ack)
	}
}

func TestPushReportsMissingAcknowledgmentList(testContext *testing.T) {
	testCases := map[string]string{
		"empty body":    "",
		"no ids field":  `{"status":"ok"}`,
		"null ids list": `{"syncedIds":null}`,
	}
	for name, body := range testCases {
		testContext.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			ack, err := mustClient(t, server.URL, "").Push(context.Background(), sampleItems())
			if err != nil {
				t.Fatalf("unexpected push error: %v", err)
			}
			if ack.Listed {
				t.Fatalf("expected acknowledgment list to be reported missing")
			}
		})
	}
}

func TestPushDistinguishesExplicitEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"syncedIds":[]}`))
	}))
	defer server.Close()

	ack, err := mustClient(t, server.URL, "").Push(context.Background(), sampleItems())
	if err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}
	if !ack.Listed || len(ack.IDs) != 0 {
		t.Fatalf("expected explicit empty acknowledgment, got %+v", ack)
	}
}

func TestPushClassifiesFailures(testContext *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream_sync_failed"}`))
	}))
	defer rejecting.Close()

	_, err := mustClient(testContext, rejecting.URL, "").Push(context.Background(), sampleItems())
	if !errors.Is(err, ErrSyncRemoteRejected) {
		testContext.Fatalf("expected ErrSyncRemoteRejected, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		testContext.Fatalf("expected status error with 502, got %v", err)
	}
	if err.Error() != "sync failed with status 502: upstream_sync_failed" {
		testContext.Fatalf("unexpected message %q", err.Error())
	}

	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachableURL := unreachable.URL
	unreachable.Close()

	_, err = mustClient(testContext, unreachableURL, "").Push(context.Background(), sampleItems())
	if !errors.Is(err, ErrSyncTransport) {
		testContext.Fatalf("expected ErrSyncTransport, got %v", err)
	}

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer malformed.Close()
	_, err = mustClient(testContext, malformed.URL, "").Push(context.Background(), sampleItems())
	if !errors.Is(err, ErrSyncRemoteRejected) {
		testContext.Fatalf("expected malformed body to be a rejection, got %v", err)
	}
}

func TestReconfigureSwapsEndpoint(testContext *testing.T) {
	hits := make(chan string, 2)
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- "first"
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- "second:" + r.Header.Get("Authorization")
	}))
	defer second.Close()

	client := mustClient(testContext, first.URL, "")
	if err := client.Reconfigure(second.URL, "rotated"); err != nil {
		testContext.Fatalf("unexpected reconfigure error: %v", err)
	}
	if err := client.Reconfigure("not a url", ""); err == nil {
		testContext.Fatalf("expected invalid endpoint to be refused")
	}
	if _, err := client.Push(context.Background(), sampleItems()); err != nil {
		testContext.Fatalf("unexpected push error: %v", err)
	}
	if hit := <-hits; hit != "second:Bearer rotated" {
		testContext.Fatalf("expected request at second endpoint, got %s", hit)
	}
}
