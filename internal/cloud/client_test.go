package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTokens hands out "token-N", advancing N on Invalidate.
type fakeTokens struct {
	mu          sync.Mutex
	gen         int
	invalidated int
	err         error
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "token-" + string(rune('0'+f.gen)), nil
}

func (f *fakeTokens) Invalidate(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	f.gen++
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *fakeTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &fakeTokens{}
	opts = append([]Option{WithAccountID("acct-1"), WithLogger(testLogger())}, opts...)
	return NewClient(srv.URL, tokens, opts...), tokens
}

func TestReadAttributeUnavailableIgnoresStaleKeys(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acct-1/devices/dev-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("expansions"); got != "attributes,state" {
			t.Errorf("expansions = %q, want %q", got, "attributes,state")
		}
		io.WriteString(w, `{"deviceState":{"available":false},"attributes":[{"id":1,"value":"01","updatedTimestamp":1700000000000}]}`)
	})

	for _, key := range []string{"1", "99"} {
		reading, err := client.ReadAttribute(context.Background(), "dev-1", keyOf(key))
		if err != nil {
			t.Fatalf("ReadAttribute(%s): %v", key, err)
		}
		if reading.Status != Unavailable {
			t.Errorf("ReadAttribute(%s).Status = %v, want %v", key, reading.Status, Unavailable)
		}
		if _, ok := reading.Boolean(); ok {
			t.Errorf("Boolean() ok on unavailable reading")
		}
	}
}

func TestReadAttributePresentAndNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-0" {
			t.Errorf("Authorization = %q", got)
		}
		io.WriteString(w, `{"deviceState":{"available":true},"attributes":[
			{"id":1,"value":"01","updatedTimestamp":1700000000000},
			{"id":"2","value":"2c01"}]}`)
	})

	reading, err := client.ReadAttribute(context.Background(), "dev-1", "1")
	if err != nil {
		t.Fatalf("ReadAttribute: %v", err)
	}
	if reading.Status != Present {
		t.Fatalf("Status = %v, want %v", reading.Status, Present)
	}
	if v, ok := reading.Boolean(); !ok || !v {
		t.Errorf("Boolean() = %v, %v, want true, true", v, ok)
	}
	if reading.Updated.UnixMilli() != 1700000000000 {
		t.Errorf("Updated = %v", reading.Updated)
	}

	reading, err = client.ReadAttribute(context.Background(), "dev-1", "2")
	if err != nil {
		t.Fatalf("ReadAttribute: %v", err)
	}
	if n, ok := reading.Integer(); !ok || n != 300 {
		t.Errorf("Integer() = %d, %v, want 300, true", n, ok)
	}

	reading, err = client.ReadAttribute(context.Background(), "dev-1", "3")
	if err != nil {
		t.Fatalf("ReadAttribute: %v", err)
	}
	if reading.Status != NotFound {
		t.Errorf("Status = %v, want %v", reading.Status, NotFound)
	}
}

func TestReadSnapshotWithoutStateIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"attributes":[{"id":1,"value":"01"}]}`)
	})
	snap, err := client.ReadSnapshot(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snap.Available {
		t.Error("Available = true, want false")
	}
	if len(snap.Attributes) != 1 {
		t.Errorf("len(Attributes) = %d, want 1", len(snap.Attributes))
	}
}

func TestWriteAttributeEncoding(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"boolean true", Bool(true), "01"},
		{"boolean false", Bool(false), "00"},
		{"integer", Int(300), "2c01"},
		{"zero", Int(0), "00"},
		{"string", String("ff00aa"), "ff00aa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got writeAction
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/accounts/acct-1/devices/dev-1/actions" {
					t.Errorf("request = %s %s", r.Method, r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("decode body: %v", err)
				}
				w.WriteHeader(http.StatusOK)
			})
			if err := client.WriteAttribute(context.Background(), "dev-1", "7", tt.value); err != nil {
				t.Fatalf("WriteAttribute: %v", err)
			}
			if got.Type != "attribute_write" {
				t.Errorf("type = %q, want attribute_write", got.Type)
			}
			if got.AttrID != "7" {
				t.Errorf("attrId = %q, want 7", got.AttrID)
			}
			if got.Data != tt.want {
				t.Errorf("data = %q, want %q", got.Data, tt.want)
			}
		})
	}
}

func TestWriteAttributeNegativeInteger(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	if err := client.WriteAttribute(context.Background(), "dev-1", "7", Int(-1)); err == nil {
		t.Error("WriteAttribute(-1) succeeded, want error")
	}
	if calls.Load() != 0 {
		t.Errorf("requests = %d, want 0", calls.Load())
	}
}

func TestWriteAttributeRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_request","error_description":"bad attribute"}`)
	})
	err := client.WriteAttribute(context.Background(), "dev-1", "7", Bool(true))
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("err = %v, want ErrRemoteRejected", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err %T is not *APIError", err)
	}
	if apiErr.Description != "bad attribute" {
		t.Errorf("Description = %q, want %q", apiErr.Description, "bad attribute")
	}
	if IsTransient(err) {
		t.Error("rejected write reported as transient")
	}
}

func TestUnauthorizedRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := client.ReadSnapshot(context.Background(), "dev-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if calls.Load() != 2 {
		t.Errorf("requests = %d, want 2", calls.Load())
	}
	if tokens.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", tokens.invalidated)
	}
}

func TestUnauthorizedRecoversWithFreshToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := client.WriteAttribute(context.Background(), "dev-1", "7", Bool(true)); err != nil {
		t.Fatalf("WriteAttribute: %v", err)
	}
}

func TestRateLimited(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := client.ReadSnapshot(context.Background(), "dev-1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", apiErr.RetryAfter)
	}
	if !IsTransient(err) {
		t.Error("rate limit not reported as transient")
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(20*time.Millisecond))
	defer close(release)

	_, err := client.ReadSnapshot(context.Background(), "dev-1")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

func TestTokenFailurePropagates(t *testing.T) {
	tokenErr := errors.New("authentication failed")
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent without token")
	})
	tokens.err = tokenErr
	if _, err := client.ReadSnapshot(context.Background(), "dev-1"); !errors.Is(err, tokenErr) {
		t.Errorf("err = %v, want %v", err, tokenErr)
	}
}

func TestAccountIDFetchedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me" {
			t.Errorf("path = %q, want /users/me", r.URL.Path)
		}
		calls.Add(1)
		io.WriteString(w, `{"accountAccess":[{"account":{"accountId":"acct-42"}}]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &fakeTokens{}, WithLogger(testLogger()))
	for i := 0; i < 3; i++ {
		id, err := client.AccountID(context.Background())
		if err != nil {
			t.Fatalf("AccountID: %v", err)
		}
		if id != "acct-42" {
			t.Errorf("AccountID = %q, want acct-42", id)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d, want 1", calls.Load())
	}
}

func TestAccountIDEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"accountAccess":[]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &fakeTokens{}, WithLogger(testLogger()))
	if _, err := client.AccountID(context.Background()); err == nil {
		t.Error("AccountID succeeded, want error")
	}
}

func TestMetadevicesChildren(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acct-1/metadevices" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `[
			{"id":"parent","deviceId":"p","children":["c1",{"id":"c2","deviceId":"d2","description":{"device":{"deviceClass":"power-outlet"},"functions":[]}}]},
			{"id":"c1","deviceId":"d1","description":{"device":{"deviceClass":"light","model":"A, B"},"functions":[
				{"functionClass":"power","functionInstance":"light-power","values":[{"name":"on","deviceValues":[{"type":"attribute","key":12}]}]}
			]}}
		]`)
	})

	devices, err := client.Metadevices(context.Background())
	if err != nil {
		t.Fatalf("Metadevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}
	children := devices[0].Children
	if len(children) != 2 {
		t.Fatalf("len(children) = %d, want 2", len(children))
	}
	if children[0].Ref != "c1" || children[0].Device != nil {
		t.Errorf("children[0] = %+v, want ref c1", children[0])
	}
	if children[1].Device == nil || children[1].Device.ID != "c2" {
		t.Errorf("children[1] = %+v, want embedded c2", children[1])
	}
	key := devices[1].Description.Functions[0].Values[0].DeviceValues[0].Key
	if key != "12" {
		t.Errorf("key = %q, want 12", key)
	}
	if !strings.Contains(devices[1].Description.Device.Model, "B") {
		t.Errorf("model = %q", devices[1].Description.Device.Model)
	}
}
