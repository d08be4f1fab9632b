package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/turntaker/pkg/types"
)

func TestAssemblyAISTT(t *testing.T) {
	var pollCount int
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.assemblyai.com/upload/abc"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"id": "transcript-1"})
			return
		}
	})
	mux.HandleFunc("/v2/transcript/transcript-1", func(w http.ResponseWriter, r *http.Request) {
		pollCount++
		if pollCount < 2 {
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "processing"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "completed",
			"text":       "assemblyai transcript",
			"confidence": 0.87,
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := &AssemblyAISTT{apiKey: "test-key", baseURL: server.URL}

	result, err := s.Transcribe(context.Background(), []byte{0}, types.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "assemblyai transcript" {
		t.Errorf("expected 'assemblyai transcript', got '%s'", result.Text)
	}
	if result.Confidence != 0.87 {
		t.Errorf("expected confidence 0.87, got %f", result.Confidence)
	}
	if s.Name() != "assemblyai-stt" {
		t.Errorf("expected assemblyai-stt, got %s", s.Name())
	}
}
