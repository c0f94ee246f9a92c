package core

import (
	"context"
	"errors"
	"log/slog"
)

// DefaultFaceMatchThreshold is the minimum confidence accepted as a match.
const DefaultFaceMatchThreshold = 0.3

const faceNotFoundMessage = "Face not found"

// FaceDetectResult is the response of the detection endpoint.
type FaceDetectResult struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	Username *string   `json:"username"`
	Role     *Role     `json:"role"`
	Conf     *float64  `json:"conf"`
	Pose     *FacePose `json:"pose"`
}

// FaceDetectService identifies the account in a query image.
type FaceDetectService struct {
	matcher   FaceMatcher
	accounts  AccountRepository
	threshold float64
	metrics   *Metrics
}

// NewFaceDetectService wires the detect flow. A negative threshold takes the
// default; zero accepts every match.
func NewFaceDetectService(matcher FaceMatcher, accounts AccountRepository, threshold float64, metrics *Metrics) *FaceDetectService {
	if threshold < 0 {
		threshold = DefaultFaceMatchThreshold
	}
	return &FaceDetectService{matcher: matcher, accounts: accounts, threshold: threshold, metrics: metrics}
}

// Detect normalizes the upload to JPEG and asks the matcher for the best
// gallery hit. No face, a confidence below the threshold and an identity
// with no account all yield Success=false.
func (s *FaceDetectService) Detect(ctx context.Context, data []byte, contentType string) (*FaceDetectResult, error) {
	jpeg, err := NormalizeJPEG(data, contentType)
	if err != nil {
		s.metrics.faceDetection("unsupported")
		return nil, err
	}
	m, err := s.matcher.Match(ctx, jpeg)
	if err != nil {
		s.metrics.faceDetection("error")
		return nil, err
	}
	if m.Identity == "" {
		s.metrics.faceDetection("no_face")
		return &FaceDetectResult{Message: faceNotFoundMessage}, nil
	}
	slog.Info("face matched", "identity", m.Identity, "conf", m.Confidence,
		"x", m.Box.X, "y", m.Box.Y, "w", m.Box.W, "h", m.Box.H)
	if m.Confidence < s.threshold {
		s.metrics.faceDetection("below_threshold")
		return &FaceDetectResult{Message: faceNotFoundMessage}, nil
	}

	a, err := s.accounts.FindByUserID(ctx, m.UserID())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Warn("matched identity has no account", "identity", m.Identity)
			s.metrics.faceDetection("unknown_identity")
			return &FaceDetectResult{Message: faceNotFoundMessage}, nil
		}
		return nil, err
	}
	s.metrics.faceDetection("matched")
	conf := m.Confidence
	pose := m.Box
	return &FaceDetectResult{
		Success:  true,
		Message:  "success",
		Username: &a.Username,
		Role:     &a.Role,
		Conf:     &conf,
		Pose:     &pose,
	}, nil
}
