package ghl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/nexloop/wabridge/bridge/domain"
)

type staticCredentials struct {
	creds Credentials
	err   error
}

func (s staticCredentials) GHLCredentials(ctx context.Context, instanceID string) (Credentials, error) {
	return s.creds, s.err
}

func TestForwarderPostsInboundMessage(t *testing.T) {
	searches := 0
	posts := 0
	withTransport(t, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/contacts/":
			searches++
			return jsonResponse(http.StatusOK, `{"contacts":[{"id":"contact-3"}]}`), nil
		case "/conversations/messages/inbound":
			posts++
			var payload MessagePayload
			b, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(b, &payload)
			if payload.ContactID != "contact-3" || payload.Message != "hello" || payload.Direction != "inbound" {
				t.Fatalf("unexpected payload: %+v", payload)
			}
			return jsonResponse(http.StatusCreated, `{"messageId":"msg-1"}`), nil
		default:
			t.Fatalf("unexpected request path: %s", req.URL.Path)
			return nil, nil
		}
	})

	f := NewForwarder(testClient(), staticCredentials{creds: Credentials{
		AccessToken: "at-1",
		LocationID:  "loc-1",
	}})

	err := f.PostMessage(context.Background(), "inst1", "+5511999990000", "hello", domain.DirectionInbound)
	if err != nil {
		t.Fatalf("PostMessage() unexpected error: %v", err)
	}

	// Second message reuses the cached contact: one more post, no new search.
	err = f.PostMessage(context.Background(), "inst1", "+5511999990000", "again", domain.DirectionInbound)
	if err != nil {
		t.Fatalf("PostMessage() unexpected error: %v", err)
	}
	if searches != 1 {
		t.Fatalf("expected 1 contact search, got %d", searches)
	}
	if posts != 2 {
		t.Fatalf("expected 2 message posts, got %d", posts)
	}
}

func TestForwarderCreatesMissingContact(t *testing.T) {
	withTransport(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/contacts/" && req.Method == http.MethodGet {
			return jsonResponse(http.StatusOK, `{"contacts":[]}`), nil
		}
		if req.URL.Path == "/contacts/" && req.Method == http.MethodPost {
			var body map[string]string
			b, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(b, &body)
			if body["phone"] != "+5511999990000" || body["locationId"] != "loc-1" {
				t.Fatalf("unexpected create body: %#v", body)
			}
			return jsonResponse(http.StatusCreated, `{"contact":{"id":"contact-new"}}`), nil
		}
		if req.URL.Path == "/conversations/messages/inbound" {
			return jsonResponse(http.StatusCreated, `{"messageId":"msg-1"}`), nil
		}
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		return nil, nil
	})

	f := NewForwarder(testClient(), staticCredentials{creds: Credentials{
		AccessToken: "at-1",
		LocationID:  "loc-1",
	}})

	err := f.PostMessage(context.Background(), "inst1", "+5511999990000", "hi", domain.DirectionInbound)
	if err != nil {
		t.Fatalf("PostMessage() unexpected error: %v", err)
	}
}

func TestForwarderSkipsUnconfiguredInstance(t *testing.T) {
	withTransport(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("no API call expected, got %s %s", req.Method, req.URL.Path)
		return nil, nil
	})

	f := NewForwarder(testClient(), staticCredentials{creds: Credentials{}})

	err := f.PostMessage(context.Background(), "inst1", "+5511999990000", "hi", domain.DirectionInbound)
	if err != nil {
		t.Fatalf("unconfigured instance must drop silently, got: %v", err)
	}
}
