package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AlexAkulov/releasewatch"
)

const defaultTimeout = 10 * time.Second

// Sender posts every event as JSON to an HTTP endpoint.
type Sender struct {
	Method  string
	URL     string
	Headers map[string]string
	Timeout time.Duration

	client *http.Client
}

func (s *Sender) Start() error {
	if s.Method == "" {
		s.Method = http.MethodPost
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s.client = &http.Client{Timeout: timeout}
	return nil
}

func (s *Sender) Stop() error {
	return nil
}

func (s *Sender) Send(event releasewatch.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("can't encode event with: %w", err)
	}
	req, err := http.NewRequest(s.Method, s.URL, bytes.NewBuffer(line))
	if err != nil {
		return fmt.Errorf("can't build request with: %w", err)
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
