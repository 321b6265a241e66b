package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Store uploads artifacts (QR images, PDF tickets) to the blob service with a
// single PUT and returns the public URL. The service is assumed durable and
// publicly fetchable once a URL is returned.
type Store struct {
	baseURL    string
	httpClient *http.Client
}

func NewStore(baseURL string) *Store {
	return &Store{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *Store) Store(ctx context.Context, data []byte, contentHint string) (string, error) {
	url := fmt.Sprintf("%s/%s", s.baseURL, uuid.NewString())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentHint)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("blob store returned status %d", resp.StatusCode)
	}
	return url, nil
}
