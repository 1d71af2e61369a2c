package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
)

// GraphError is a classifiable HTTP failure from the Graph API. The status
// code feeds the retry decision, the body is merged into the post's
// diagnostics.
type GraphError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error: http_%d", e.StatusCode)
}

// InstagramService wraps the three Graph semantics the pipeline depends on:
// create container, poll container status, publish container.
type InstagramService interface {
	PublishPhoto(ctx context.Context, igUserID, accessToken, imageURL, caption string) (json.RawMessage, error)
	PublishReel(ctx context.Context, igUserID, accessToken, videoURL, caption string, shareToFeed bool, heartbeat func()) (json.RawMessage, error)
}

type instagramService struct {
	cfg    config.Config
	client *http.Client
}

func NewInstagramService(cfg config.Config) InstagramService {
	return &instagramService{
		cfg: cfg,
		// Video containers need generous per-call room; individual calls
		// narrow this with context timeouts.
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

const (
	photoCallTimeout  = 20 * time.Second
	videoCallTimeout  = 60 * time.Second
	statusPollTimeout = 30 * time.Second
	// processingDeadline bounds the whole poll loop. It may exceed the
	// publishing staleness timeout only because the worker heartbeats
	// between polls.
	processingDeadline = 5 * time.Minute
	processingPoll     = 5 * time.Second
)

func (s *instagramService) base() string {
	return fmt.Sprintf("https://graph.facebook.com/%s", s.cfg.MetaGraphVersion)
}

func (s *instagramService) PublishPhoto(ctx context.Context, igUserID, accessToken, imageURL, caption string) (json.RawMessage, error) {
	creation, err := s.createContainer(ctx, igUserID, url.Values{
		"image_url":    {imageURL},
		"caption":      {caption},
		"access_token": {accessToken},
	}, photoCallTimeout)
	if err != nil {
		return nil, err
	}

	published, err := s.publishContainer(ctx, igUserID, creation.ID, accessToken, photoCallTimeout)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"step1":     creation.Raw,
		"step2":     published,
		"image_url": imageURL,
		"caption":   caption,
	})
}

func (s *instagramService) PublishReel(ctx context.Context, igUserID, accessToken, videoURL, caption string, shareToFeed bool, heartbeat func()) (json.RawMessage, error) {
	creation, err := s.createContainer(ctx, igUserID, url.Values{
		"media_type":    {"REELS"},
		"video_url":     {videoURL},
		"caption":       {caption},
		"share_to_feed": {fmt.Sprintf("%t", shareToFeed)},
		"access_token":  {accessToken},
	}, videoCallTimeout)
	if err != nil {
		return nil, err
	}

	if err := s.waitContainerReady(ctx, creation.ID, accessToken, heartbeat); err != nil {
		return nil, err
	}

	published, err := s.publishContainer(ctx, igUserID, creation.ID, accessToken, videoCallTimeout)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"step1":         creation.Raw,
		"step2":         published,
		"video_url":     videoURL,
		"caption":       caption,
		"share_to_feed": shareToFeed,
	})
}

type containerResult struct {
	ID  string
	Raw json.RawMessage
}

func (s *instagramService) createContainer(ctx context.Context, igUserID string, form url.Values, timeout time.Duration) (*containerResult, error) {
	raw, err := s.postForm(ctx, fmt.Sprintf("%s/%s/media", s.base(), igUserID), form, timeout)
	if err != nil {
		return nil, err
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("error parsing container response: %w", err)
	}
	if body.ID == "" {
		return nil, fmt.Errorf("no creation id returned: %s", raw)
	}
	return &containerResult{ID: body.ID, Raw: raw}, nil
}

// waitContainerReady polls the container until processing finishes or the
// deadline passes, refreshing the worker's lock between polls so the reaper
// leaves the post alone.
func (s *instagramService) waitContainerReady(ctx context.Context, creationID, accessToken string, heartbeat func()) error {
	deadline := time.Now().Add(processingDeadline)
	lastStatus := ""

	for time.Now().Before(deadline) {
		reqURL := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", s.base(), creationID, url.QueryEscape(accessToken))
		raw, err := s.get(ctx, reqURL, statusPollTimeout)
		if err != nil {
			return err
		}

		var body struct {
			StatusCode string `json:"status_code"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("error parsing container status: %w", err)
		}
		lastStatus = body.StatusCode
		slog.Info("container status", "creation_id", creationID, "status_code", body.StatusCode)

		switch body.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "FAILED":
			return fmt.Errorf("video_processing_error:%s", body.StatusCode)
		}

		if heartbeat != nil {
			heartbeat()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(processingPoll):
		}
	}
	return fmt.Errorf("video_processing_timeout:last=%s", lastStatus)
}

func (s *instagramService) publishContainer(ctx context.Context, igUserID, creationID, accessToken string, timeout time.Duration) (json.RawMessage, error) {
	return s.postForm(ctx, fmt.Sprintf("%s/%s/media_publish", s.base(), igUserID), url.Values{
		"creation_id":  {creationID},
		"access_token": {accessToken},
	}, timeout)
}

func (s *instagramService) postForm(ctx context.Context, reqURL string, form url.Values, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return s.do(req)
}

func (s *instagramService) get(ctx context.Context, reqURL string, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	return s.do(req)
}

func (s *instagramService) do(req *http.Request) (json.RawMessage, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if !json.Valid(body) {
			body, _ = json.Marshal(map[string]string{"text": string(body)})
		}
		return nil, &GraphError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
