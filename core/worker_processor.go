package core

import (
	"context"
	"errors"
	"log/slog"
)

// FaceSyncProcessor applies one face-sync job to the face service gallery.
type FaceSyncProcessor struct {
	images  FaceImageStore
	matcher FaceMatcher
}

func NewFaceSyncProcessor(images FaceImageStore, matcher FaceMatcher) *FaceSyncProcessor {
	return &FaceSyncProcessor{images: images, matcher: matcher}
}

// Process returns a non-nil error when the job should be retried.
func (p *FaceSyncProcessor) Process(ctx context.Context, job FaceSyncJob) error {
	switch job.Op {
	case FaceSyncEnroll:
		img, err := p.images.Get(ctx, job.UserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// The account or its image went away after the job was queued.
				slog.Info("face sync skipped, image missing", "job", job.String())
				return nil
			}
			return err
		}
		return p.matcher.Enroll(ctx, job.UserID, img)
	case FaceSyncRemove:
		return p.matcher.Remove(ctx, job.UserID)
	default:
		return ErrInvalidInput
	}
}
