package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"camrec/internal/database"
	"camrec/internal/events"
	"camrec/internal/models"
)

// EventPublisher emits upload lifecycle events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Pipeline consumes upload tasks and moves artifacts to the remote store.
// Every task is persisted to the local database before dispatch, so a
// process restart resumes from where it left off. BookingID is the
// idempotency key: enqueueing a booking twice is a no-op.
type Pipeline struct {
	db          *database.DB
	store       Store
	redis       *redis.Client
	bus         EventPublisher
	retryPolicy RetryPolicy

	queue         chan models.UploadTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	workers       int
	uploadTimeout time.Duration
	deleteLocal   bool
	now           func() time.Time
	logger        *zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Options tunes pipeline behaviour beyond the defaults.
type Options struct {
	Workers           int
	QueueSize         int
	UploadTimeout     time.Duration
	DeleteAfterUpload bool
	Redis             *redis.Client
	Bus               EventPublisher

	// Clock overrides time.Now, used by tests to drive retry timing.
	Clock func() time.Time
}

// NewPipeline builds a pipeline with sane defaults.
func NewPipeline(db *database.DB, store Store, retry RetryPolicy, opts Options, logger *zerolog.Logger) *Pipeline {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = models.DefaultMaxUploadAttempts
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.Workers <= 0 {
		opts.Workers = models.DefaultUploadWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = models.UploadQueueSize
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Pipeline{
		db:            db,
		store:         store,
		redis:         opts.Redis,
		bus:           opts.Bus,
		retryPolicy:   retry,
		queue:         make(chan models.UploadTask, opts.QueueSize),
		redisQueueKey: "uploads:queue",
		deadLetterKey: "uploads:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		workers:       opts.Workers,
		uploadTimeout: opts.UploadTimeout,
		deleteLocal:   opts.DeleteAfterUpload,
		now:           opts.Clock,
		logger:        logger,
	}
}

// Enqueue persists the task and schedules it. A booking that already has a
// task, in any state, is left untouched.
func (p *Pipeline) Enqueue(ctx context.Context, task models.UploadTask) error {
	if task.BookingID == "" {
		return errors.New("booking id is required")
	}
	if task.ArtifactPath == "" {
		return errors.New("artifact path is required")
	}

	if existing, err := p.db.GetUploadTaskByBooking(ctx, task.BookingID); err == nil {
		p.logger.Debug().
			Str("booking_id", task.BookingID).
			Str("status", existing.Status).
			Msg("upload already enqueued, skipping duplicate")
		return nil
	} else if !errors.Is(err, database.ErrTaskNotFound) {
		return fmt.Errorf("lookup upload task: %w", err)
	}

	task.Status = models.UploadPending
	if err := p.db.CreateUploadTask(ctx, &task); err != nil {
		return fmt.Errorf("persist upload task: %w", err)
	}

	// Try redis first; the local database already guarantees durability,
	// the mirror just wakes workers faster across restarts.
	if p.redis != nil {
		if err := p.pushRedis(ctx, task); err != nil {
			p.logger.Warn().Err(err).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case p.queue <- task:
	default:
		p.logger.Warn().Int64("task_id", task.ID).Msg("upload queue full, task left to polling")
	}

	return nil
}

// Run recovers persisted tasks and serves the queue until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info().Int("workers", p.workers).Msg("upload pipeline started")
	defer p.logger.Info().Msg("upload pipeline stopped")

	p.recover(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

// recover re-dispatches tasks that survived a previous run.
func (p *Pipeline) recover(ctx context.Context) {
	tasks, err := p.db.GetPendingUploadTasks(ctx, p.batchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("recover pending uploads")
		return
	}
	for _, task := range tasks {
		select {
		case p.queue <- task:
		default:
			// Polling will pick up the rest.
			return
		}
	}
	if len(tasks) > 0 {
		p.logger.Info().Int("count", len(tasks)).Msg("recovered pending uploads")
	}
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := p.tryLocalQueue(); ok {
			p.processTask(ctx, &t)
			continue
		}

		if t, ok := p.tryRedis(ctx); ok {
			p.processTask(ctx, &t)
			continue
		}

		tasks, err := p.db.GetPendingUploadTasks(ctx, p.batchSize)
		if err != nil {
			p.logger.Error().Err(err).Msg("fetch pending uploads")
			p.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			p.sleep(ctx)
			continue
		}

		for i := range tasks {
			p.processTask(ctx, &tasks[i])
		}
	}
}

func (p *Pipeline) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

func (p *Pipeline) tryLocalQueue() (models.UploadTask, bool) {
	select {
	case t := <-p.queue:
		return t, true
	default:
		return models.UploadTask{}, false
	}
}

func (p *Pipeline) tryRedis(ctx context.Context) (models.UploadTask, bool) {
	if p.redis == nil {
		return models.UploadTask{}, false
	}
	res, err := p.redis.BRPop(ctx, time.Second, p.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.UploadTask{}, false
		}
		p.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.UploadTask{}, false
	}
	if len(res) != 2 {
		return models.UploadTask{}, false
	}
	var task models.UploadTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		p.logger.Error().Err(err).Msg("decode redis upload task")
		return models.UploadTask{}, false
	}
	return task, true
}

func (p *Pipeline) processTask(ctx context.Context, task *models.UploadTask) {
	if !p.claim(task.BookingID) {
		return
	}
	defer p.release(task.BookingID)

	// Re-read the row: the queued copy may be stale relative to what
	// another worker or a previous run already did.
	current, err := p.db.GetUploadTaskByBooking(ctx, task.BookingID)
	if err != nil {
		p.logger.Error().Err(err).Str("booking_id", task.BookingID).Msg("reload upload task")
		return
	}
	if current.Status == models.UploadUploaded || current.Status == models.UploadFailed {
		return
	}
	if current.NextRetryAt != nil && current.NextRetryAt.After(p.now()) {
		return
	}

	if _, err := os.Stat(current.ArtifactPath); err != nil {
		p.failTask(ctx, current, fmt.Errorf("artifact missing: %w", err))
		return
	}

	if err := p.db.UpdateUploadTaskStatus(ctx, current.ID, models.UploadUploading, "", nil); err != nil {
		p.logger.Error().Err(err).Int64("task_id", current.ID).Msg("mark uploading")
	}

	uctx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
	remoteURL, err := p.store.Upload(uctx, ObjectKey(current.UserID, current.BookingID), current.ArtifactPath)
	cancel()
	if err != nil {
		p.retryOrFail(ctx, current, err)
		return
	}

	if err := p.db.SetUploadTaskRemoteURL(ctx, current.ID, remoteURL); err != nil {
		p.logger.Error().Err(err).Int64("task_id", current.ID).Msg("store remote url")
	}
	if err := p.db.UpdateUploadTaskStatus(ctx, current.ID, models.UploadUploaded, "", nil); err != nil {
		p.logger.Error().Err(err).Int64("task_id", current.ID).Msg("mark uploaded")
	}

	p.logger.Info().
		Str("booking_id", current.BookingID).
		Str("remote_url", remoteURL).
		Msg("artifact uploaded")

	if p.bus != nil {
		_ = p.bus.PublishJSON(events.EventUploadCompleted, events.RecordingEventPayload{
			BookingID:    current.BookingID,
			CameraID:     current.CameraID,
			ArtifactPath: current.ArtifactPath,
			RemoteURL:    remoteURL,
		})
	}

	if p.deleteLocal {
		if err := os.Remove(current.ArtifactPath); err != nil {
			p.logger.Warn().Err(err).Str("path", current.ArtifactPath).Msg("remove local artifact")
		}
	}
}

func (p *Pipeline) retryOrFail(ctx context.Context, task *models.UploadTask, cause error) {
	attempt := task.AttemptCount + 1
	if attempt >= p.retryPolicy.MaxAttempts {
		p.failTask(ctx, task, cause)
		return
	}

	nextDelay := p.retryPolicy.NextDelay(attempt)
	nextTime := p.now().Add(nextDelay)
	if err := p.db.UpdateUploadTaskStatus(ctx, task.ID, models.UploadPending, cause.Error(), &nextTime); err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	p.logger.Warn().
		Err(cause).
		Str("booking_id", task.BookingID).
		Int("attempt", attempt).
		Dur("next_delay", nextDelay).
		Msg("upload attempt failed, will retry")
}

// failTask marks the task permanently failed. The local artifact is kept
// on disk for manual recovery.
func (p *Pipeline) failTask(ctx context.Context, task *models.UploadTask, cause error) {
	if err := p.db.UpdateUploadTaskStatus(ctx, task.ID, models.UploadFailed, cause.Error(), nil); err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark permanently failed")
	}
	p.pushDeadLetter(ctx, task)

	p.logger.Error().
		Err(cause).
		Str("booking_id", task.BookingID).
		Str("path", task.ArtifactPath).
		Msg("upload permanently failed, artifact retained")

	if p.bus != nil {
		_ = p.bus.PublishJSON(events.EventUploadFailed, events.RecordingEventPayload{
			BookingID:    task.BookingID,
			CameraID:     task.CameraID,
			ArtifactPath: task.ArtifactPath,
			Reason:       cause.Error(),
		})
	}
}

func (p *Pipeline) claim(bookingID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight == nil {
		p.inflight = make(map[string]struct{})
	}
	if _, ok := p.inflight[bookingID]; ok {
		return false
	}
	p.inflight[bookingID] = struct{}{}
	return true
}

func (p *Pipeline) release(bookingID string) {
	p.mu.Lock()
	delete(p.inflight, bookingID)
	p.mu.Unlock()
}

func (p *Pipeline) pushRedis(ctx context.Context, task models.UploadTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.redis.LPush(ctx, p.redisQueueKey, data).Err()
}

func (p *Pipeline) pushDeadLetter(ctx context.Context, task *models.UploadTask) {
	if p.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter task")
		return
	}
	if err := p.redis.LPush(ctx, p.deadLetterKey, data).Err(); err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("push deadletter task")
	}
}

// Counts reports queue totals for status reporting.
func (p *Pipeline) Counts(ctx context.Context) (pending, failed, uploaded int, err error) {
	counts, err := p.db.CountUploadTasks(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	pending = counts[models.UploadPending] + counts[models.UploadUploading]
	failed = counts[models.UploadFailed]
	uploaded = counts[models.UploadUploaded]
	return pending, failed, uploaded, nil
}
