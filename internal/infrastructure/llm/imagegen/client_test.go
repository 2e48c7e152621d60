package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIllustrateDecodesInlineImage(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := map[string]any{"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("PNGDATA"))}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(server.URL, "key", Options{})
	img, err := client.Illustrate(context.Background(), "CT scan of the chest")
	if err != nil {
		t.Fatalf("Illustrate() error = %v", err)
	}
	if string(img) != "PNGDATA" {
		t.Fatalf("unexpected image %q", img)
	}
	prompt, _ := payload["prompt"].(string)
	if !strings.Contains(prompt, "illustration of a CT scan of the chest") {
		t.Fatalf("unexpected prompt %q", prompt)
	}
	if payload["model"] != "dall-e-3" || payload["size"] != "1024x1024" {
		t.Fatalf("unexpected defaults %v", payload)
	}
}

func TestIllustrateFollowsURL(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"url": server.URL + "/img.png"}}})
	})
	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("FETCHED"))
	})

	img, err := New(server.URL, "", Options{}).Illustrate(context.Background(), "MR scan")
	if err != nil {
		t.Fatalf("Illustrate() error = %v", err)
	}
	if string(img) != "FETCHED" {
		t.Fatalf("unexpected image %q", img)
	}
}

func TestIllustrateReportsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "content policy", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := New(server.URL, "", Options{}).Illustrate(context.Background(), "CT scan")
	if err == nil || !strings.Contains(err.Error(), "content policy") {
		t.Fatalf("expected rejection body, got %v", err)
	}
}

func TestIllustrateRequiresDescription(t *testing.T) {
	if _, err := New("http://unused", "", Options{}).Illustrate(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty description")
	}
}
