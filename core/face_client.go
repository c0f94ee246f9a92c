package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// FaceMatcher abstracts the external face-recognition service.
type FaceMatcher interface {
	Match(ctx context.Context, jpeg []byte) (*FaceMatch, error)
	Enroll(ctx context.Context, userID string, jpeg []byte) error
	Remove(ctx context.Context, userID string) error
}

// FacePose is the bounding box of the matched face in the query image.
type FacePose struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// FaceMatch is the best gallery hit. An empty Identity means no face matched.
type FaceMatch struct {
	Identity   string   `json:"identity"`
	Confidence float64  `json:"confidence"`
	Box        FacePose `json:"box"`
}

// UserID extracts the account user id from an identity like "gallery/<user_id>.jpg".
func (m *FaceMatch) UserID() string {
	base := path.Base(strings.ReplaceAll(m.Identity, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

var errFaceServiceUnset = errors.New("face service url not configured")

// HTTPFaceClient calls the face service HTTP endpoints.
type HTTPFaceClient struct {
	client *http.Client
	base   string
}

func NewHTTPFaceClient(baseURL string) *HTTPFaceClient {
	return &HTTPFaceClient{
		client: &http.Client{Timeout: 30 * time.Second},
		base:   strings.TrimRight(baseURL, "/"),
	}
}

// Match posts the query JPEG to /match.
func (c *HTTPFaceClient) Match(ctx context.Context, jpeg []byte) (*FaceMatch, error) {
	if c.base == "" {
		return nil, errFaceServiceUnset
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/match", bytes.NewReader(jpeg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	slog.Debug("face match", "bytes", len(jpeg))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &FaceMatch{}, nil
	}
	if resp.StatusCode >= 300 {
		return nil, statusError("match", resp)
	}
	var m FaceMatch
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode match response: %w", err)
	}
	return &m, nil
}

// Enroll uploads the gallery image of userID, replacing any previous one.
func (c *HTTPFaceClient) Enroll(ctx context.Context, userID string, jpeg []byte) error {
	if c.base == "" {
		return errFaceServiceUnset
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.galleryURL(userID), bytes.NewReader(jpeg))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError("enroll", resp)
	}
	return nil
}

// Remove deletes the gallery image of userID; a missing entry is not an error.
func (c *HTTPFaceClient) Remove(ctx context.Context, userID string) error {
	if c.base == "" {
		return errFaceServiceUnset
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.galleryURL(userID), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return statusError("remove", resp)
	}
	return nil
}

func (c *HTTPFaceClient) galleryURL(userID string) string {
	return fmt.Sprintf("%s/gallery/%s", c.base, url.PathEscape(userID))
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("face service %s returned status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}
