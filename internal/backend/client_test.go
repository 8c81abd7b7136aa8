package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// recordSleeps returns a Sleep func that records delays without waiting.
func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := Backoff(base, i+1); got != w {
			t.Errorf("Backoff(%v, %d) = %v, want %v", base, i+1, got, w)
		}
	}
}

func TestDoRetriesUntilBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{BaseURL: srv.URL, Sleep: recordSleeps(&delays)})

	_, err := c.UploadFinal(context.Background(), "sess-1", 3)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("err = %v, want StatusError 502", err)
	}
	if got := calls.Load(); got != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", got, DefaultMaxAttempts)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDoReturnsLastErrorUnchanged(t *testing.T) {
	sentinel := errors.New("dial refused")
	var attempts int
	c := New(Options{
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})

	_, err := c.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		attempts++
		return nil, sentinel
	})
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapping %v", err, sentinel)
	}
}

func TestDoStopsRetryingOnSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"summary":"S","transcript":"T"}`)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{BaseURL: srv.URL, Sleep: recordSleeps(&delays)})

	res, err := c.UploadFinal(context.Background(), "sess-1", 2)
	if err != nil {
		t.Fatalf("UploadFinal: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if len(delays) != 1 || delays[0] != DefaultBaseDelay {
		t.Errorf("delays = %v, want [%v]", delays, DefaultBaseDelay)
	}
	if res.Summary == nil || *res.Summary != "S" {
		t.Errorf("summary = %v, want S", res.Summary)
	}
	if res.Transcript == nil || *res.Transcript != "T" {
		t.Errorf("transcript = %v, want T", res.Transcript)
	}
}

func TestMalformedBodyIsNotAFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	res, err := c.Chat(context.Background(), "sess-1", "what happened?")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Response != nil {
		t.Errorf("response = %q, want nil", *res.Response)
	}
}

func TestSleepCancellationStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(Options{BaseURL: srv.URL, Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}})

	_, err := c.UploadFinal(ctx, "sess-1", 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestUploadChunkMultipart(t *testing.T) {
	type received struct {
		sessionID, order, filename, contentType string
		payload                                 []byte
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-chunk" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		f, hdr, err := r.FormFile("chunk")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		got <- received{
			sessionID:   r.FormValue("sessionId"),
			order:       r.FormValue("order"),
			filename:    hdr.Filename,
			contentType: hdr.Header.Get("Content-Type"),
			payload:     data,
		}
		_, _ = io.WriteString(w, `{"message":"stored"}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	res, err := c.UploadChunk(context.Background(), "sess-1", 7, []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}
	if res.Message == nil || *res.Message != "stored" {
		t.Errorf("message = %v, want stored", res.Message)
	}

	r := <-got
	if r.sessionID != "sess-1" {
		t.Errorf("sessionId = %q", r.sessionID)
	}
	if r.order != "7" {
		t.Errorf("order = %q, want 7", r.order)
	}
	if r.filename != "chunk-7.webm" {
		t.Errorf("filename = %q", r.filename)
	}
	if r.contentType != "audio/webm" {
		t.Errorf("content type = %q", r.contentType)
	}
	if string(r.payload) != "audio-bytes" {
		t.Errorf("payload = %q", r.payload)
	}
}

func TestChatJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["sessionId"] != "sess-1" || body["query"] != "who spoke?" {
			t.Errorf("body = %v", body)
		}
		_, _ = io.WriteString(w, `{"response":"Alice"}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/"})
	if c.BaseURL() != srv.URL {
		t.Errorf("BaseURL = %q, want %q", c.BaseURL(), srv.URL)
	}
	res, err := c.Chat(context.Background(), "sess-1", "who spoke?")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Response == nil || *res.Response != "Alice" {
		t.Errorf("response = %v, want Alice", res.Response)
	}
}

func TestDefaultBaseURL(t *testing.T) {
	if got := New(Options{}).BaseURL(); got != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", got, DefaultBaseURL)
	}
}
