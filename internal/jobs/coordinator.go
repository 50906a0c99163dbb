// Package jobs coordinates the lifecycle of one analysis job: stage input,
// register the record, run the analyzer, assemble artifacts, commit the
// terminal state, and invalidate cached views.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haakonsb/carcounter/internal/analysis"
	"github.com/haakonsb/carcounter/internal/auth"
	"github.com/haakonsb/carcounter/internal/blob"
	"github.com/haakonsb/carcounter/internal/cache"
	"github.com/haakonsb/carcounter/internal/store"
	"github.com/haakonsb/carcounter/pkg/models"
)

// ErrForbiddenKey is returned when an analyze-from-store key falls outside
// the caller's upload namespace. Checked before any blob is read.
var ErrForbiddenKey = errors.New("blob key outside caller namespace")

// ErrNotDone is returned when streaming is requested before the job finished.
var ErrNotDone = errors.New("job not done yet")

// ErrGone is returned when a finished job's artifact is no longer resolvable.
var ErrGone = errors.New("artifact no longer available")

// Options tune the coordinator. Zero values fall back to defaults.
type Options struct {
	WorkDir     string
	SignedTTL   time.Duration
	PresignTTL  time.Duration
	RunningTTL  time.Duration
	TerminalTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.WorkDir == "" {
		o.WorkDir = os.TempDir()
	}
	if o.SignedTTL == 0 {
		o.SignedTTL = time.Hour
	}
	if o.PresignTTL == 0 {
		o.PresignTTL = 10 * time.Minute
	}
	if o.RunningTTL == 0 {
		o.RunningTTL = 5 * time.Second
	}
	if o.TerminalTTL == 0 {
		o.TerminalTTL = 5 * time.Minute
	}
	return o
}

// Coordinator owns job creation and both terminal transitions. For a given
// job the only writer of terminal state is that job's own completion
// continuation; the read path never mutates anything.
type Coordinator struct {
	store  store.Store
	blobs  blob.Store
	cache  cache.Cache
	runner analysis.Runner
	opts   Options

	wg sync.WaitGroup
}

// New creates a Coordinator.
func New(s store.Store, b blob.Store, c cache.Cache, r analysis.Runner, opts Options) *Coordinator {
	return &Coordinator{store: s, blobs: b, cache: c, runner: r, opts: opts.withDefaults()}
}

// Wait blocks until all in-flight completion continuations have finished.
// Used for graceful shutdown and tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Submission is the immediate answer to a submit: the job is registered and
// running, analysis continues in the background.
type Submission struct {
	JobID  uuid.UUID `json:"jobId"`
	Status string    `json:"status"`
}

// Submit registers a new job for the uploaded video and dispatches analysis.
// It returns as soon as the job record is durably created; errors after that
// point surface only through the job's terminal state.
func (c *Coordinator) Submit(ctx context.Context, identity auth.Identity, filename, contentType string, data []byte) (*Submission, error) {
	if filename == "" {
		filename = "upload.mp4"
	}
	if contentType == "" {
		contentType = "video/mp4"
	}

	jobID := uuid.New()

	videoKey := fmt.Sprintf("videos/%s/%s", jobID, filename)
	videoLoc, err := c.blobs.Put(ctx, videoKey, bytes.NewReader(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("upload input: %w", err)
	}

	stg, err := newStaging(c.opts.WorkDir, jobID, data)
	if err != nil {
		return nil, fmt.Errorf("stage input: %w", err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:               jobID,
		Owner:            identity.ID,
		Filename:         filename,
		Status:           models.JobStatusRunning,
		InputLocation:    videoLoc,
		OutputLocation:   videoLoc,
		MetadataLocation: c.blobs.Location(c.metadataKey(jobID)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		stg.remove()
		return nil, fmt.Errorf("register job: %w", err)
	}

	c.wg.Add(1)
	go c.finish(jobID, stg, videoLoc)

	return &Submission{JobID: jobID, Status: models.JobStatusRunning}, nil
}

// SubmitFromStore runs the same pipeline on a video already resident in the
// blob store. The key must fall inside the caller's own upload namespace;
// anything else is rejected before a single byte is read.
func (c *Coordinator) SubmitFromStore(ctx context.Context, identity auth.Identity, key string) (*Submission, error) {
	prefix := uploadPrefix(identity)
	if !strings.HasPrefix(key, prefix) {
		return nil, fmt.Errorf("%w: %q must start with %q", ErrForbiddenKey, key, prefix)
	}

	data, err := c.blobs.Read(ctx, c.blobs.Location(key))
	if err != nil {
		return nil, fmt.Errorf("read staged upload: %w", err)
	}

	return c.Submit(ctx, identity, path.Base(key), "video/mp4", data)
}

// PresignUpload issues a time-bounded direct-upload URL under the caller's
// namespace, for use with SubmitFromStore.
func (c *Coordinator) PresignUpload(ctx context.Context, identity auth.Identity, filename, contentType string) (key, url string, err error) {
	if filename == "" {
		filename = "upload.mp4"
	}
	if contentType == "" {
		contentType = "video/mp4"
	}
	key = fmt.Sprintf("%s%s/%s", uploadPrefix(identity), uuid.New(), filename)
	url, err = c.blobs.SignedPutURL(ctx, key, contentType, c.opts.PresignTTL)
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}
	return key, url, nil
}

func uploadPrefix(identity auth.Identity) string {
	return "uploads/" + identity.ID + "/"
}

func (c *Coordinator) metadataKey(jobID uuid.UUID) string {
	return fmt.Sprintf("metadata/%s.json", jobID)
}

// finish is the completion continuation and the sole terminal-state writer
// for its job. It runs detached from the submit request: the caller already
// got its 202, so every failure here ends up in the job record, never in a
// response. The staging directory is released on all paths.
func (c *Coordinator) finish(jobID uuid.UUID, stg staging, videoLoc string) {
	defer c.wg.Done()
	defer stg.remove()

	ctx := context.Background()

	if err := c.runner.Run(ctx, stg.input()); err != nil {
		slog.Error("analysis failed", "job_id", jobID, "error", err)
		c.fail(ctx, jobID)
		return
	}

	if err := c.assemble(ctx, jobID, stg, videoLoc); err != nil {
		slog.Error("post-processing failed", "job_id", jobID, "error", err)
		c.fail(ctx, jobID)
		return
	}
}

// assemble runs the success path: read the analyzer's metadata, upload frame
// snapshots, resolve the count, write the enriched metadata artifact, and
// commit the done state. Cache invalidation happens strictly after the store
// write so a reader can never repopulate a stale running view afterwards.
func (c *Coordinator) assemble(ctx context.Context, jobID uuid.UUID, stg staging, videoLoc string) error {
	raw, err := os.ReadFile(stg.metadataPath())
	if err != nil {
		return fmt.Errorf("read analyzer metadata: %w", err)
	}
	meta, err := analysis.ParseMetadata(raw)
	if err != nil {
		return err
	}

	imageLocs := c.uploadFrames(ctx, jobID, stg.framesDir())
	count := meta.ResolveCount()

	meta.Enrich(jobID.String(), videoLoc, imageLocs)
	encoded, err := meta.Encode()
	if err != nil {
		return err
	}
	if _, err := c.blobs.Put(ctx, c.metadataKey(jobID), bytes.NewReader(encoded), "application/json"); err != nil {
		return fmt.Errorf("write metadata artifact: %w", err)
	}

	if err := c.store.MarkJobDone(ctx, jobID, count); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	c.invalidate(ctx, jobID)

	slog.Info("job done", "job_id", jobID, "count", count, "images", len(imageLocs))
	return nil
}

// uploadFrames pushes every produced snapshot to the blob store. Frame upload
// trouble degrades to an empty image set rather than failing the job.
func (c *Coordinator) uploadFrames(ctx context.Context, jobID uuid.UUID, framesDir string) []string {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		slog.Warn("listing frames failed", "job_id", jobID, "error", err)
		return nil
	}

	var locs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(framesDir, entry.Name()))
		if err != nil {
			slog.Warn("reading frame failed", "job_id", jobID, "frame", entry.Name(), "error", err)
			return nil
		}
		key := fmt.Sprintf("frames/%s/%s", jobID, entry.Name())
		loc, err := c.blobs.Put(ctx, key, bytes.NewReader(data), "image/jpeg")
		if err != nil {
			slog.Warn("uploading frame failed", "job_id", jobID, "frame", entry.Name(), "error", err)
			return nil
		}
		locs = append(locs, loc)
	}
	return locs
}

// fail commits the error state, then invalidates. A store failure here is
// logged and dropped; the job will look stuck-running and must be judged by
// its absence of progress.
func (c *Coordinator) fail(ctx context.Context, jobID uuid.UUID) {
	if err := c.store.MarkJobError(ctx, jobID); err != nil {
		slog.Error("marking job failed", "job_id", jobID, "error", err)
		return
	}
	c.invalidate(ctx, jobID)
}

func (c *Coordinator) invalidate(ctx context.Context, jobID uuid.UUID) {
	if err := c.cache.Delete(ctx, cache.JobViewKey(jobID)); err != nil {
		slog.Warn("cache invalidation failed", "job_id", jobID, "error", err)
	}
}

// staging is the local working copy handed to the analyzer. Each job owns
// its directory exclusively for the pipeline's lifetime.
type staging struct {
	dir string
}

func newStaging(workDir string, jobID uuid.UUID, data []byte) (staging, error) {
	stg := staging{dir: filepath.Join(workDir, "job-"+jobID.String())}
	if err := os.MkdirAll(stg.framesDir(), 0o755); err != nil {
		return staging{}, err
	}
	if err := os.WriteFile(stg.inputPath(), data, 0o644); err != nil {
		stg.remove()
		return staging{}, err
	}
	return stg, nil
}

func (s staging) inputPath() string    { return filepath.Join(s.dir, "input.mp4") }
func (s staging) metadataPath() string { return filepath.Join(s.dir, "metadata.json") }
func (s staging) framesDir() string    { return filepath.Join(s.dir, "frames") }

func (s staging) input() analysis.Input {
	return analysis.Input{
		VideoPath:    s.inputPath(),
		MetadataPath: s.metadataPath(),
		FramesDir:    s.framesDir(),
	}
}

// remove releases the staging directory, swallowing deletion errors.
func (s staging) remove() {
	if s.dir == "" {
		return
	}
	if err := os.RemoveAll(s.dir); err != nil {
		slog.Warn("removing staging dir failed", "dir", s.dir, "error", err)
	}
}
