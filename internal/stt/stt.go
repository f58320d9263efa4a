// Package stt implements the two permissible Stt transports: a
// persistent server-mode child process reached over loopback HTTP, and
// a one-shot subprocess spawned per call.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lokutor-ai/voxcore/internal/audio"
	"github.com/lokutor-ai/voxcore/internal/orchestrator"
)

// SampleRate is the fixed wire rate for PCM handed to Stt.
const SampleRate = 16000

// Server is server-mode Stt: a persistent child process answering
// multipart HTTP on a loopback port. Grounded on the teacher's
// pkg/providers/stt/groq.go multipart-WAV-upload shape, with the
// target URL swapped from a cloud endpoint to a local one and a
// readiness probe added (grounded on hubenschmidt's hostproc.go
// probeHealth pattern).
type Server struct {
	baseURL string
	client  *http.Client
}

// NewServer constructs a Server Stt pointed at baseURL (e.g.
// "http://127.0.0.1:8090"). It does not probe readiness itself;
// callers should call WaitReady after spawning the child process.
func NewServer(baseURL string) *Server {
	return &Server{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WaitReady polls GET /healthz on the server until it answers 200 OK
// or timeout elapses, using short exponential backoff starting at 50ms.
func (s *Server) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Millisecond
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
		if err == nil {
			if resp, err := s.client.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return orchestrator.NewError(orchestrator.KindTimeout, fmt.Sprintf("stt server not ready after %s", timeout), nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// Name satisfies orchestrator.Stt.
func (s *Server) Name() string { return "stt_server" }

// Transcribe wraps pcm in a canonical WAV buffer and POSTs it to
// /v1/audio/transcriptions as multipart/form-data.
func (s *Server) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	wav := audio.WriteWav(pcm, SampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("stt server error: %s (status %d)", string(respBody), resp.StatusCode)
		return "", orchestrator.NewError(orchestrator.KindEngineFailed, msg, nil)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
