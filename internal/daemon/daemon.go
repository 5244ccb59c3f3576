// Package daemon keeps a coordinator reconciling in the background.
//
// The daemon:
//  1. Loads local state and reconciles once at startup
//  2. Runs the coordinator's reconcile loop
//  3. Reconciles on a fixed interval to pick up remote edits
//  4. Watches the local store file and reloads when another process writes it
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Coordinator is the part of sync.Coordinator the daemon drives.
type Coordinator interface {
	Initialize(ctx context.Context) error
	Run(ctx context.Context) error
	RequestReconcile(ctx context.Context)
	ReloadIfChanged() (bool, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval is how often to reconcile with the remote even without local
	// changes. Zero disables periodic reconciliation.
	Interval time.Duration

	// DebounceInterval is how long the store must be quiet before a change is
	// processed. This batches the several writes of one transaction.
	DebounceInterval time.Duration

	// StorePath is the local store file to watch. Empty disables watching.
	StorePath string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         30 * time.Second,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats counts daemon activity.
type Stats struct {
	Reloads    int64 `json:"reloads"`
	Reconciles int64 `json:"reconciles"`
	FileEvents int64 `json:"file_events"`
}

// Daemon drives a Coordinator from timers and file events.
type Daemon struct {
	coord  Coordinator
	config *Config

	watcher *FileWatcher

	pendingMu sync.Mutex
	pendingAt time.Time // zero when nothing is queued

	reloads    atomic.Int64
	reconciles atomic.Int64
	fileEvents atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once
}

// New creates a daemon with the default configuration and no file watching.
func New(coord Coordinator) (*Daemon, error) {
	return NewWithConfig(coord, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(coord Coordinator, config *Config) (*Daemon, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	d := &Daemon{
		coord:  coord,
		config: config,
	}

	if config.StorePath != "" {
		fw, err := NewFileWatcher()
		if err != nil {
			return nil, err
		}
		d.watcher = fw
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes the coordinator and runs until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := d.coord.Initialize(runCtx); err != nil {
		d.releaseWatcher()
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.StorePath); err != nil {
			d.releaseWatcher()
			return err
		}
		d.config.Logger.Printf("Watching: %s", d.config.StorePath)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.coord.Run(runCtx); err != nil {
			d.config.Logger.Printf("Reconcile loop stopped: %v", err)
		}
	}()

	if d.watcher != nil {
		d.wg.Add(2)
		go d.watchFileEvents(runCtx)
		go d.processChangeQueue(runCtx)
	}
	if d.config.Interval > 0 {
		d.wg.Add(1)
		go d.reconcilePeriodically(runCtx)
	}

	<-runCtx.Done()
	d.config.Logger.Println("Shutdown signal received")
	d.shutdown()
	return nil
}

// Stop asks a running daemon to shut down. Start returns once every
// goroutine has exited.
func (d *Daemon) Stop() error {
	d.cancel()
	return nil
}

func (d *Daemon) shutdown() {
	d.stop.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
}

func (d *Daemon) releaseWatcher() {
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
}

// Stats returns activity counters.
func (d *Daemon) Stats() Stats {
	return Stats{
		Reloads:    d.reloads.Load(),
		Reconciles: d.reconciles.Load(),
		FileEvents: d.fileEvents.Load(),
	}
}

// watchFileEvents queues a change for every store file event.
func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()

	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-events:
			if !ok {
				return
			}
			d.fileEvents.Add(1)
			d.queueChange()

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records that the store changed, restarting the debounce window.
func (d *Daemon) queueChange() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pendingAt = time.Now()
}

// processChangeQueue handles queued changes once the store has been quiet
// for the debounce interval.
func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges(ctx)
		}
	}
}

func (d *Daemon) processPendingChanges(ctx context.Context) {
	d.pendingMu.Lock()
	queuedAt := d.pendingAt
	ready := !queuedAt.IsZero() && time.Since(queuedAt) >= d.config.DebounceInterval
	if ready {
		d.pendingAt = time.Time{}
	}
	d.pendingMu.Unlock()

	if !ready {
		return
	}

	changed, err := d.coord.ReloadIfChanged()
	if err != nil {
		d.config.Logger.Printf("Error reloading local state: %v", err)
		return
	}
	if !changed {
		// Our own write, or a write that did not touch the document.
		return
	}
	d.reloads.Add(1)
	d.config.Logger.Println("Local store changed, reconciling")
	d.reconciles.Add(1)
	d.coord.RequestReconcile(ctx)
}

// reconcilePeriodically picks up edits made on other devices.
func (d *Daemon) reconcilePeriodically(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reconciles.Add(1)
			d.coord.RequestReconcile(ctx)
		}
	}
}
