package thinserve_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yinfei8/thinserve"
	"github.com/yinfei8/thinserve/proto"
	"github.com/yinfei8/thinserve/referenceable"
)

type echoRoot struct{}

func newTestServer(t *testing.T) (*httptest.Server, *thinserve.Server) {
	t.Helper()
	reg := referenceable.NewRegistry()
	referenceable.RegisterFor[echoRoot](reg, map[string]referenceable.MethodSpec{
		"echo": {
			Signature: proto.Signature{Params: []proto.Param{{Name: "text"}}},
			Handler: func(instance any, args map[string]*proto.LazyParser) (any, error) {
				text, err := args["text"].ParseType(proto.StringCategory)
				if err != nil {
					return nil, err
				}
				return text, nil
			},
		},
	})

	srv := thinserve.NewServer(&thinserve.ServerOptions{
		Registry: reg,
		CreateSession: proto.NewStructFunc(proto.Signature{}, func(map[string]*proto.LazyParser) (any, error) {
			return &echoRoot{}, nil
		}),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal(%v): %v", body, err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding response from %s: %v", url, err)
	}
	obj, _ := decoded.(map[string]any)
	return resp, obj
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, obj := postJSON(t, ts.URL, []any{"create_session", map[string]any{}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create_session: status = %d, body = %v", resp.StatusCode, obj)
	}
	sid, ok := obj["session"].(string)
	if !ok || sid == "" {
		t.Fatalf("create_session: missing session id in %v", obj)
	}
	return sid
}

// TestCreateSession covers seed scenario 1: a client posts create_session
// and gets back a usable session id.
func TestCreateSession(t *testing.T) {
	ts, _ := newTestServer(t)
	sid := createSession(t, ts)
	if len(sid) != 32 {
		t.Errorf("session id %q: len = %d, want 32 (16 bytes hex)", sid, len(sid))
	}
}

// TestPollEmptyThenResolve covers seed scenario 2: a long-poll against a
// freshly created session blocks until a message is sent, then resolves.
func TestPollEmptyThenResolve(t *testing.T) {
	ts, _ := newTestServer(t)
	sid := createSession(t, ts)

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get(ts.URL + "/" + sid)
		if err != nil {
			t.Error(err)
			return
		}
		done <- resp
	}()

	select {
	case <-done:
		t.Fatal("long-poll resolved before any message was sent")
	case <-time.After(100 * time.Millisecond):
	}

	resp, obj := postJSON(t, ts.URL+"/"+sid, []any{
		"call",
		map[string]any{"id": 0, "target": nil, "method": []any{"echo", map[string]any{"text": "hi"}}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("posting call: status = %d, body = %v", resp.StatusCode, obj)
	}

	select {
	case pollResp := <-done:
		defer pollResp.Body.Close()
		var batch []any
		if err := json.NewDecoder(pollResp.Body).Decode(&batch); err != nil {
			t.Fatalf("decoding poll response: %v", err)
		}
		if len(batch) != 1 {
			t.Fatalf("batch = %v, want exactly one reply", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("long-poll never resolved after a message was sent")
	}
}

// TestImmediateDataReply covers seed scenario 3: posting a call whose
// handler succeeds yields a reply delivered on the next gather.
func TestImmediateDataReply(t *testing.T) {
	ts, _ := newTestServer(t)
	sid := createSession(t, ts)

	resp, _ := postJSON(t, ts.URL+"/"+sid, []any{
		"call",
		map[string]any{"id": 0, "target": nil, "method": []any{"echo", map[string]any{"text": "ack"}}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("posting call: status = %d", resp.StatusCode)
	}

	pollResp, err := http.Get(ts.URL + "/" + sid)
	if err != nil {
		t.Fatalf("GET %s/%s: %v", ts.URL, sid, err)
	}
	defer pollResp.Body.Close()
	var batch []any
	if err := json.NewDecoder(pollResp.Body).Decode(&batch); err != nil {
		t.Fatalf("decoding poll response: %v", err)
	}
	msg := batch[0].([]any)
	body := msg[1].(map[string]any)
	result := body["result"].([]any)
	if result[0] != "data" || result[1] != "ack" {
		t.Errorf("reply result = %v, want [data ack]", result)
	}
}

// TestStructuralArgumentFailure covers seed scenario 4: a malformed call
// payload (wrong argument type) is rejected with a structured protocol
// error delivered as the call's own reply, not an HTTP error.
func TestStructuralArgumentFailure(t *testing.T) {
	ts, _ := newTestServer(t)
	sid := createSession(t, ts)

	resp, _ := postJSON(t, ts.URL+"/"+sid, []any{
		"call",
		map[string]any{"id": 0, "target": nil, "method": []any{"echo", map[string]any{"text": 42}}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("posting call: status = %d", resp.StatusCode)
	}

	pollResp, err := http.Get(ts.URL + "/" + sid)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer pollResp.Body.Close()
	var batch []any
	if err := json.NewDecoder(pollResp.Body).Decode(&batch); err != nil {
		t.Fatalf("decoding poll response: %v", err)
	}
	msg := batch[0].([]any)
	body := msg[1].(map[string]any)
	result := body["result"].([]any)
	if result[0] != "error" {
		t.Fatalf("reply result kind = %v, want error", result[0])
	}
	errObj := result[1].(map[string]any)
	if errObj["template"] == "" {
		t.Errorf("error object missing template: %v", errObj)
	}
}

// TestLongPollBump covers seed scenario 5: a second long-poll against the
// same session resolves the first one immediately with an empty batch.
func TestLongPollBump(t *testing.T) {
	ts, _ := newTestServer(t)
	sid := createSession(t, ts)

	first := make(chan []any, 1)
	go func() {
		resp, err := http.Get(ts.URL + "/" + sid)
		if err != nil {
			t.Error(err)
			return
		}
		defer resp.Body.Close()
		var batch []any
		json.NewDecoder(resp.Body).Decode(&batch)
		first <- batch
	}()

	time.Sleep(100 * time.Millisecond)

	second, err := http.Get(ts.URL + "/" + sid)
	if err != nil {
		t.Fatalf("second GET: %v", err)
	}
	defer second.Body.Close()

	select {
	case batch := <-first:
		if len(batch) != 0 {
			t.Errorf("bumped first poll batch = %v, want empty", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("first long-poll was never bumped")
	}
}

// TestUnknownSessionRejected covers the out-of-band addressing error: a
// message posted to a nonexistent session id is rejected, not delivered.
func TestUnknownSessionRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, obj := postJSON(t, ts.URL+"/doesnotexist", []any{
		"call",
		map[string]any{"id": 0, "target": nil, "method": []any{"echo", map[string]any{"text": "hi"}}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("posting to unknown session: status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if obj["template"] == "" {
		t.Errorf("error object missing template: %v", obj)
	}
}

func TestUnsupportedHTTPMethodRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodDelete, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("DELETE /: status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
