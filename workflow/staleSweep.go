package workflow

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/models"
	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StaleDealSweeper periodically scans every tenant for deals that have
// overstayed their stage and sends each owner one aggregated notification.
// The sweep never mutates deals; staleness is always derived on read.
type StaleDealSweeper struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Notifier Notifier

	Interval time.Duration

	running int32
}

func NewStaleDealSweeper(db *gorm.DB, logger *logrus.Logger, notifier Notifier) *StaleDealSweeper {
	return &StaleDealSweeper{
		DB:       db,
		Logger:   logger,
		Notifier: notifier,
		Interval: config.StaleDealSweepInterval(),
	}
}

func (s *StaleDealSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !config.StaleDealSweepEnabled() {
				continue
			}
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep across all tenants. A local flag guards
// against a slow sweep overlapping the next tick in this process; a redis
// lock keeps multiple instances from sweeping the same window.
func (s *StaleDealSweeper) SweepOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "stale-deal-sweep", s.Interval/2, nil)
		if err != nil {
			if err != redislock.ErrNotObtained && s.Logger != nil {
				s.Logger.WithFields(logrus.Fields{"field": "StaleDealSweeper"}).
					Warn("could not obtain sweep lock: " + err.Error())
			}
			return
		}
		defer lock.Release(context.Background())
	}

	db := s.DB
	if db == nil {
		db = config.GetDB()
	}
	if db == nil {
		return
	}

	var businessIds []string
	err := db.WithContext(ctx).Model(&models.Pipeline{}).
		Distinct("business_id").
		Pluck("business_id", &businessIds).Error
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{"field": "StaleDealSweeper"}).
				Error("failed to list tenants: " + err.Error())
		}
		return
	}

	for _, businessId := range businessIds {
		s.sweepBusiness(ctx, businessId)
	}
}

func (s *StaleDealSweeper) sweepBusiness(ctx context.Context, businessId string) {
	tenantCtx := utils.SetBusinessIdInContext(ctx, businessId)

	stale, err := models.GetStaleDealsForBusiness(tenantCtx, businessId, models.StaleDealFilter{})
	if err != nil {
		logger := s.Logger
		if logger == nil {
			logger = config.GetLogger()
		}
		config.LogError(logger, "workflow", "sweepBusiness", "stale scan", businessId, err)
		return
	}
	if len(stale) == 0 {
		return
	}

	// one notification per owner, carrying all of that owner's stale deals
	byOwner := GroupStaleDealsByOwner(stale)
	for ownerId, deals := range byOwner {
		if s.Notifier == nil || ownerId <= 0 {
			continue
		}
		err := s.Notifier.Notify(tenantCtx, businessId, ownerId, string(models.DealEventStale), deals)
		if err != nil && s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"field":       "StaleDealSweeper",
				"business_id": businessId,
				"owner_id":    ownerId,
				"deal_count":  len(deals),
			}).Warn("stale deal notification failed: " + err.Error())
		}
	}

	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":       "StaleDealSweeper",
			"business_id": businessId,
			"stale_count": len(stale),
			"owner_count": len(byOwner),
		}).Info("stale deal sweep completed")
	}
}

// GroupStaleDealsByOwner buckets stale deals by their owner. Pure.
func GroupStaleDealsByOwner(stale []*models.StaleDeal) map[int][]*models.StaleDeal {
	byOwner := make(map[int][]*models.StaleDeal)
	for _, entry := range stale {
		if entry == nil || entry.Deal == nil {
			continue
		}
		byOwner[entry.Deal.OwnerId] = append(byOwner[entry.Deal.OwnerId], entry)
	}
	return byOwner
}
