package otp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// newVoipMSTestServer serves canned voip.ms responses keyed by method.
func newVoipMSTestServer(t *testing.T, responses map[string]string, calls *[]url.Values) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if calls != nil {
			*calls = append(*calls, query)
		}
		body, ok := responses[query.Get("method")]
		if !ok {
			t.Errorf("unexpected voip.ms method %q", query.Get("method"))
			body = `{"status":"error"}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func newTestVoipMSClient(server *httptest.Server) *VoipMSClient {
	c := NewVoipMSClient(server.Client(), "user", "pass", "5551234567")
	c.endpoint = server.URL
	return c
}

func TestSMSChannel_RetrieveCode(t *testing.T) {
	received := time.Now().In(time.Local).Add(-10 * time.Second)
	var calls []url.Values
	server := newVoipMSTestServer(t, map[string]string{
		"getSMS": `{"status":"success","sms":[
			{"id":"41","date":"` + received.Format("2006-01-02 15:04:05") + `","contact":"tangerine","message":"Tangerine: 472951 is your security code."}
		]}`,
		"deleteSMS": `{"status":"success"}`,
	}, &calls)
	defer server.Close()

	client := newTestVoipMSClient(server)

	channel := NewSMSChannel(client)
	channel.pollInterval = 5 * time.Millisecond
	channel.timeout = time.Second

	code, err := channel.RetrieveCode(context.Background(), Criteria{
		After:  received.Add(-time.Minute),
		Sender: "tangerine",
	})
	if err != nil {
		t.Fatalf("RetrieveCode failed: %v", err)
	}
	if code != "472951" {
		t.Errorf("code = %q, want 472951", code)
	}

	var deleted bool
	for _, call := range calls {
		if call.Get("method") == "deleteSMS" && call.Get("id") == "41" {
			deleted = true
		}
	}
	if !deleted {
		t.Error("consumed SMS was not deleted")
	}
}

func TestSMSChannel_RetrieveCode_TimedOut(t *testing.T) {
	server := newVoipMSTestServer(t, map[string]string{
		"getSMS": `{"status":"no_sms"}`,
	}, nil)
	defer server.Close()

	client := newTestVoipMSClient(server)

	channel := NewSMSChannel(client)
	channel.pollInterval = 5 * time.Millisecond
	channel.timeout = 30 * time.Millisecond

	_, err := channel.RetrieveCode(context.Background(), Criteria{After: time.Now()})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
}

func TestVoipMSClient_SendSMS(t *testing.T) {
	var calls []url.Values
	server := newVoipMSTestServer(t, map[string]string{
		"sendSMS": `{"status":"success"}`,
	}, &calls)
	defer server.Close()

	client := newTestVoipMSClient(server)

	if err := client.SendSMS(context.Background(), "5559876543", "hello"); err != nil {
		t.Fatalf("SendSMS failed: %v", err)
	}
	if len(calls) != 1 || calls[0].Get("dst") != "5559876543" {
		t.Errorf("unexpected sendSMS calls: %v", calls)
	}
}

func TestVoipMSClient_SendSMS_Failure(t *testing.T) {
	server := newVoipMSTestServer(t, map[string]string{
		"sendSMS": `{"status":"missing_credentials"}`,
	}, nil)
	defer server.Close()

	client := newTestVoipMSClient(server)

	if err := client.SendSMS(context.Background(), "5559876543", "hello"); err == nil {
		t.Error("SendSMS succeeded, want error on non-success status")
	}
}
