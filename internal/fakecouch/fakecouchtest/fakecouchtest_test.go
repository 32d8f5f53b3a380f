package fakecouchtest

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cutting-room-floor/backbone-couch/internal/fakecouch"
)

func TestNewServer(t *testing.T) {
	ts, srv := NewServer(t, fakecouch.Options{})
	if srv.Store() == nil {
		t.Fatal("expected a backing store")
	}

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var welcome map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&welcome); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if welcome["couchdb"] != "Welcome" {
		t.Errorf("unexpected welcome body %v", welcome)
	}
}
