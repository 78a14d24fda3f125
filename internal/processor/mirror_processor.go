package processor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"realty/server/config"
	"realty/server/internal/database"
	"realty/server/internal/models"
	"realty/server/internal/queue"
)

// Transactor is the part of *gorm.DB the processor needs
type Transactor interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// MirrorProcessor keeps the sqlite mirror in step with every loaded collection
type MirrorProcessor struct {
	db         Transactor
	queue      *queue.CollectionQueue
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger

	mu            sync.Mutex
	lastTimestamp string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMirrorProcessor creates a processor. Call Start to subscribe it to the queue.
func NewMirrorProcessor(db Transactor, q *queue.CollectionQueue, cfg *config.Config, logger *logrus.Logger) *MirrorProcessor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MirrorProcessor{
		db:         db,
		queue:      q,
		maxRetries: cfg.Mirror.MaxRetries,
		retryDelay: cfg.Mirror.RetryDelay,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to collection events
func (p *MirrorProcessor) Start() {
	p.queue.Subscribe(p.handle)
}

// Stop aborts pending retries
func (p *MirrorProcessor) Stop() {
	p.cancel()
}

func (p *MirrorProcessor) handle(event models.CollectionLoaded) error {
	// an empty collection usually means the remote store failed; keep the last good copy
	if len(event.Properties) == 0 {
		p.logger.WithField("timestamp", event.Timestamp).Debug("Not mirroring empty collection")
		return nil
	}

	p.mu.Lock()
	if event.Timestamp != "" && event.Timestamp == p.lastTimestamp {
		p.mu.Unlock()
		return nil
	}
	p.lastTimestamp = event.Timestamp
	p.mu.Unlock()

	return p.processCollection(event.Properties)
}

// processCollection replaces the mirror inside a transaction, retrying on failure
func (p *MirrorProcessor) processCollection(properties []models.Property) error {
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying mirror write, attempt %d of %d", attempt, p.maxRetries)
			select {
			case <-p.ctx.Done():
				return fmt.Errorf("mirror write cancelled: %w", p.ctx.Err())
			case <-time.After(p.retryDelay):
			}
		}

		err = p.db.Transaction(func(tx *gorm.DB) error {
			if err := database.ReplaceMirror(tx, properties); err != nil {
				return fmt.Errorf("failed to replace mirror: %w", err)
			}
			return nil
		})

		if err == nil {
			p.logger.Infof("Mirrored collection of %d properties", len(properties))
			return nil
		}

		p.logger.Errorf("Mirror write failed: %v", err)
	}

	return fmt.Errorf("failed to mirror collection after %d attempts: %w", p.maxRetries+1, err)
}
