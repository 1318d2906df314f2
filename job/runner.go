package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/image-service/processor"
)

const DefaultMaxImages = 20

// Applier 对单张图片执行一个操作，由 processor.Processor 实现
type Applier interface {
	Apply(ctx context.Context, userID, op, imageURL string) (processor.Result, error)
}

type Runner struct {
	store     *Store
	proc      Applier
	workers   int
	maxImages int
	wg        sync.WaitGroup
}

func NewRunner(store *Store, proc Applier, workers, maxImages int) *Runner {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	return &Runner{
		store:     store,
		proc:      proc,
		workers:   max(workers, 1),
		maxImages: maxImages,
	}
}

// Submit 校验参数、登记任务并在后台处理，立即返回 processing 状态的任务
func (r *Runner) Submit(ctx context.Context, userID string, urls, ops []string) (Job, error) {
	if len(urls) == 0 {
		return Job{}, fmt.Errorf("%w: image_urls is required", processor.ErrInvalidRequest)
	}
	if len(urls) > r.maxImages {
		return Job{}, fmt.Errorf("%w: maximum %d images per batch", processor.ErrInvalidRequest, r.maxImages)
	}

	known, err := knownOperations(ops)
	if err != nil {
		return Job{}, err
	}

	j := Job{
		ID:         ksuid.New().String(),
		UserID:     userID,
		Status:     StatusProcessing,
		Operations: known,
		Total:      len(urls),
		Results:    make([]ItemResult, len(urls)),
		CreatedAt:  time.Now(),
	}
	for i, u := range urls {
		j.Results[i] = ItemResult{ImageURL: u, Status: StatusPending}
	}
	if err := r.store.Create(j); err != nil {
		return Job{}, err
	}
	j.UpdatedAt = j.CreatedAt

	logger := log.Ctx(ctx).With().Str("job_id", j.ID).Str("user_id", userID).Logger()
	// 请求结束后任务继续执行
	bg := logger.WithContext(context.WithoutCancel(ctx))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(bg, j)
	}()

	logger.Info().Int("total", j.Total).Strs("operations", known).Msg("batch job submitted")
	return *j.clone(), nil
}

// Wait 等待所有后台任务结束
func (r *Runner) Wait() {
	r.wg.Wait()
}

// knownOperations 忽略未知操作，一个都不认识时报错；为空时默认 enhance
func knownOperations(ops []string) ([]string, error) {
	if len(ops) == 0 {
		return []string{processor.OpEnhance}, nil
	}
	known := make([]string, 0, len(ops))
	for _, op := range ops {
		if processor.ValidOperation(op) {
			known = append(known, op)
		}
	}
	if len(known) == 0 {
		return nil, fmt.Errorf("%w: no valid operations, allowed: %v", processor.ErrInvalidRequest, processor.Operations())
	}
	return known, nil
}

func (r *Runner) run(ctx context.Context, j Job) {
	logger := log.Ctx(ctx)

	var g errgroup.Group
	g.SetLimit(r.workers)

	for i, u := range j.Results {
		i, u := i, u
		g.Go(func() error {
			item := r.processItem(ctx, j.UserID, u.ImageURL, j.Operations)
			_, err := r.store.Update(j.ID, func(stored *Job) {
				stored.Results[i] = item
				if item.Status == StatusFailed {
					stored.Failed++
				} else {
					stored.Completed++
				}
			})
			if err != nil {
				logger.Warn().Err(err).Str("image_url", u.ImageURL).Msg("record batch item")
			}
			return nil
		})
	}
	_ = g.Wait()

	final, err := r.store.Update(j.ID, func(stored *Job) {
		stored.Status = StatusCompleted
		if stored.Failed == stored.Total {
			stored.Status = StatusFailed
		}
	})
	if err != nil {
		logger.Warn().Err(err).Msg("finish batch job")
		return
	}
	logger.Info().Str("status", final.Status).Int("completed", final.Completed).Int("failed", final.Failed).Msg("batch job finished")
}

// processItem 依次执行操作，每一步使用上一步的输出
func (r *Runner) processItem(ctx context.Context, userID, imageURL string, ops []string) ItemResult {
	item := ItemResult{ImageURL: imageURL, Status: StatusCompleted}
	current := imageURL
	for _, op := range ops {
		res, err := r.proc.Apply(ctx, userID, op, current)
		if err != nil {
			item.Status = StatusFailed
			item.Error = fmt.Sprintf("%s: %v", op, err)
			item.ProcessedURL = ""
			return item
		}
		current = res.URL
		item.ProcessedURL = res.URL
	}
	return item
}
