package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/haakonsb/carcounter/internal/analysis"
	"github.com/haakonsb/carcounter/internal/auth"
	"github.com/haakonsb/carcounter/internal/cache"
	"github.com/haakonsb/carcounter/internal/store"
	"github.com/haakonsb/carcounter/pkg/models"
)

// View is the externally visible shape of a job. Video and Images carry
// signed, time-bounded URLs and are populated only once the job is done.
type View struct {
	JobID    string   `json:"jobId"`
	Status   string   `json:"status"`
	Count    *int64   `json:"count"`
	Video    *string  `json:"video"`
	Images   []string `json:"images"`
	Owner    string   `json:"owner"`
	Filename string   `json:"filename,omitempty"`
}

// GetResult returns the authorized view of a job, cache-aside: the cache is
// consulted first, the record store and blob store only on a miss, and the
// assembled view is cached with a TTL that depends on the job's state (short
// while running, longer once terminal).
func (c *Coordinator) GetResult(ctx context.Context, identity auth.Identity, jobID uuid.UUID) (*View, error) {
	key := cache.JobViewKey(jobID)

	if data, found, _ := c.cache.Get(ctx, key); found {
		var view View
		if err := json.Unmarshal(data, &view); err == nil {
			if err := auth.Authorize(identity, view.Owner); err != nil {
				return nil, err
			}
			return &view, nil
		}
		// A corrupt entry is treated as a miss; the store rebuild overwrites it.
		slog.Warn("dropping undecodable cached view", "job_id", jobID)
	}

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(identity, job.Owner); err != nil {
		return nil, err
	}

	view, err := c.buildView(ctx, job)
	if err != nil {
		return nil, err
	}

	ttl := c.opts.RunningTTL
	if job.Terminal() {
		ttl = c.opts.TerminalTTL
	}
	if data, err := json.Marshal(view); err == nil {
		if err := c.cache.Set(ctx, key, data, ttl); err != nil {
			slog.Warn("caching view failed", "job_id", jobID, "error", err)
		}
	}

	return view, nil
}

func (c *Coordinator) buildView(ctx context.Context, job *models.Job) (*View, error) {
	view := &View{
		JobID:    job.ID.String(),
		Status:   job.Status,
		Count:    job.Count,
		Images:   []string{},
		Owner:    job.Owner,
		Filename: job.Filename,
	}
	if job.Status != models.JobStatusDone {
		return view, nil
	}

	videoURL, err := c.blobs.SignedGetURL(ctx, job.OutputLocation, c.opts.SignedTTL)
	if err != nil {
		return nil, fmt.Errorf("sign video url: %w", err)
	}
	view.Video = &videoURL

	images, err := c.signedImages(ctx, job)
	if err != nil {
		return nil, err
	}
	view.Images = images
	return view, nil
}

// signedImages loads the metadata artifact and signs every frame reference.
func (c *Coordinator) signedImages(ctx context.Context, job *models.Job) ([]string, error) {
	raw, err := c.blobs.Read(ctx, job.MetadataLocation)
	if err != nil {
		return nil, fmt.Errorf("read metadata artifact: %w", err)
	}
	meta, err := analysis.ParseMetadata(raw)
	if err != nil {
		return nil, err
	}

	urls := []string{}
	for _, loc := range meta.ImageLocations() {
		u, err := c.blobs.SignedGetURL(ctx, loc, c.opts.SignedTTL)
		if err != nil {
			return nil, fmt.Errorf("sign image url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, nil
}

// ListImages returns signed URLs for a job's frame snapshots. Jobs that have
// not finished have no artifact yet and yield an empty list.
func (c *Coordinator) ListImages(ctx context.Context, identity auth.Identity, jobID uuid.UUID) ([]string, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(identity, job.Owner); err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusDone {
		return []string{}, nil
	}
	return c.signedImages(ctx, job)
}

// StreamURL returns a signed redirect target for the job's output video.
func (c *Coordinator) StreamURL(ctx context.Context, identity auth.Identity, jobID uuid.UUID) (string, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if err := auth.Authorize(identity, job.Owner); err != nil {
		return "", err
	}
	if job.Status != models.JobStatusDone {
		return "", ErrNotDone
	}

	url, err := c.blobs.SignedGetURL(ctx, job.OutputLocation, c.opts.SignedTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrGone, err)
	}
	return url, nil
}

// List returns job summaries. Non-admin callers are pinned to their own jobs
// server-side instead of being denied.
func (c *Coordinator) List(ctx context.Context, identity auth.Identity, filter store.JobFilter) ([]*models.Job, error) {
	if !identity.Admin {
		filter.Owner = identity.ID
	}
	return c.store.ListJobs(ctx, filter)
}
