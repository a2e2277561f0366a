package room

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateJoinTokenSendsRequestAndAuth(t *testing.T) {
	var got JoinTokenConfig
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/join-tokens" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	}))
	defer srv.Close()

	client := NewAPIClient("secret", srv.URL)
	token, err := client.CreateJoinToken(JoinTokenConfig{
		RoomName:    "call-42",
		Participant: "operator-1",
		ExpiresAt:   1700000000,
	})
	if err != nil {
		t.Fatalf("CreateJoinToken: %v", err)
	}
	if token != "tok-123" {
		t.Fatalf("token = %q, want tok-123", token)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if got.RoomName != "call-42" || got.Participant != "operator-1" || got.ExpiresAt != 1700000000 {
		t.Fatalf("request body = %+v", got)
	}
}

func TestCreateJoinTokenDefaultsExpiry(t *testing.T) {
	var got JoinTokenConfig
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	}))
	defer srv.Close()

	before := time.Now().Add(DefaultTokenValidity).Unix()
	if _, err := NewAPIClient("k", srv.URL).CreateJoinToken(JoinTokenConfig{
		RoomName:    "r",
		Participant: "p",
	}); err != nil {
		t.Fatalf("CreateJoinToken: %v", err)
	}
	after := time.Now().Add(DefaultTokenValidity).Unix()

	if got.ExpiresAt < before || got.ExpiresAt > after {
		t.Fatalf("ExpiresAt = %d, want within [%d, %d]", got.ExpiresAt, before, after)
	}
}

func TestCreateJoinTokenSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewAPIClient("k", srv.URL).CreateJoinToken(JoinTokenConfig{RoomName: "r", Participant: "p"})
	if err == nil {
		t.Fatal("expected error on 404 response")
	}
}

func TestCreateRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms" {
			t.Errorf("path = %s, want /rooms", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Room{ID: "rm-1", Name: "call-42", URL: "wss://rooms.example/call-42"})
	}))
	defer srv.Close()

	room, err := NewAPIClient("k", srv.URL).CreateRoom(RoomConfig{Name: "call-42"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID != "rm-1" || room.Name != "call-42" {
		t.Fatalf("room = %+v", room)
	}
}

func TestDeleteRoom(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewAPIClient("k", srv.URL).DeleteRoom("call-42"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/rooms/call-42" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}
