package poster

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/empower1/block-builder/internal/rollup"
	"github.com/empower1/block-builder/internal/storage"
)

const (
	postBlockPollingInterval = 2 * time.Second
	depositCheckDefault      = 2 * time.Second
)

// JobsConfig carries the background-loop timing the runner needs.
type JobsConfig struct {
	InitialHeartBeatDelay time.Duration
	HeartBeatInterval     time.Duration
	DepositCheckInterval  time.Duration
	BuilderURL            string
}

// Runner owns the three background loops a live block builder keeps
// running: posting queued tasks, watching for deposits that need an empty
// block to advance the chain, and announcing liveness to the registry.
type Runner struct {
	poster   *Poster
	store    storage.Storage
	prover   depositProver
	registry rollup.Registry
	cfg      JobsConfig
	log      *zap.SugaredLogger

	stopChan chan struct{}
	group    *errgroup.Group
}

// depositProver is the subset of prover.Client the empty-block watchdog
// needs.
type depositProver interface {
	GetNextDepositIndex(ctx context.Context) (uint32, error)
	GetLatestIncludedDepositIndex(ctx context.Context) (*uint32, error)
}

func NewRunner(poster *Poster, store storage.Storage, prover depositProver, registry rollup.Registry, cfg JobsConfig, log *zap.SugaredLogger) *Runner {
	return &Runner{
		poster:   poster,
		store:    store,
		prover:   prover,
		registry: registry,
		cfg:      cfg,
		log:      log.Named("poster.jobs"),
		stopChan: make(chan struct{}),
	}
}

// Run starts all background loops. Stop shuts them down.
func (r *Runner) Run() {
	r.group = &errgroup.Group{}
	r.group.Go(r.postBlockLoop)
	r.group.Go(r.emptyBlockWatchdogLoop)
	r.group.Go(r.heartBeatLoop)
}

// Stop signals every loop to exit and waits for them. A loop's own
// per-tick errors never reach here, they're logged and swallowed at the
// tick site; Wait only ever returns nil.
func (r *Runner) Stop() {
	close(r.stopChan)
	_ = r.group.Wait()
}

func (r *Runner) postBlockLoop() error {
	ticker := time.NewTicker(postBlockPollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return nil
		case <-ticker.C:
			if err := r.postOnce(); err != nil {
				r.log.Errorw("error in post block job", "error", err)
			}
		}
	}
}

func (r *Runner) postOnce() error {
	ctx := context.Background()
	task, err := r.store.DequeueBlockPostTask(ctx)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	if err := r.poster.Post(ctx, *task); err != nil {
		r.log.Errorw("error posting block", "error", err)
	}
	return nil
}

func (r *Runner) emptyBlockWatchdogLoop() error {
	interval := r.cfg.DepositCheckInterval
	if interval <= 0 {
		interval = depositCheckDefault
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return nil
		case <-ticker.C:
			if err := r.checkDeposits(); err != nil {
				r.log.Errorw("error checking new deposits", "error", err)
			}
		}
	}
}

func (r *Runner) checkDeposits() error {
	ctx := context.Background()
	next, err := r.prover.GetNextDepositIndex(ctx)
	if err != nil {
		return err
	}
	latestIncluded, err := r.prover.GetLatestIncludedDepositIndex(ctx)
	if err != nil {
		return err
	}

	var hasNewDeposits bool
	if latestIncluded != nil {
		hasNewDeposits = next > *latestIncluded+1
	} else {
		hasNewDeposits = next > 0
	}
	if !hasNewDeposits {
		return nil
	}
	return r.store.EnqueueEmptyBlock(ctx)
}

func (r *Runner) heartBeatLoop() error {
	delay := r.cfg.InitialHeartBeatDelay
	select {
	case <-r.stopChan:
		return nil
	case <-time.After(delay):
	}

	if err := r.emitHeartBeat(); err != nil {
		r.log.Errorw("error in emitting initial heart beat", "error", err)
	} else {
		r.log.Infow("initial heart beat emitted")
	}

	interval := r.cfg.HeartBeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return nil
		case <-ticker.C:
			if err := r.emitHeartBeat(); err != nil {
				r.log.Errorw("error in emitting heart beat", "error", err)
			}
		}
	}
}

func (r *Runner) emitHeartBeat() error {
	return r.registry.EmitHeartBeat(context.Background(), r.cfg.BuilderURL)
}
