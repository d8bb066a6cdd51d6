// Package metadata stores small client-side facts next to the records.
// Today that is the per-owner, per-kind pull watermark of incremental sync.
package metadata

import (
	"context"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

type Repository interface {
	// Watermark returns the server time up to which kind was pulled for
	// owner, or the zero time before the first pull.
	Watermark(ctx context.Context, owner string, kind models.Kind) (time.Time, error)
	SetWatermark(ctx context.Context, owner string, kind models.Kind, t time.Time) error
	// ResetWatermarks forgets every watermark of owner so the next pull
	// starts from the beginning. It returns how many were removed.
	ResetWatermarks(ctx context.Context, owner string) (int, error)
}

func watermarkPrefix(owner string) string {
	return "pull_watermark:" + owner + ":"
}

func watermarkKey(owner string, kind models.Kind) string {
	return watermarkPrefix(owner) + string(kind)
}
