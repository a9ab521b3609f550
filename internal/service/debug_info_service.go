package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/host"
	"github.com/noah-isme/ai-check-api/internal/queue"
	"github.com/noah-isme/ai-check-api/internal/repository"
)

// QueueInspector exposes queue depth.
type QueueInspector interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// SubscriptionProbe reports whether the host event subscription is live.
type SubscriptionProbe interface {
	Active() bool
}

// DebugInfoService gathers pipeline diagnostics for administrators.
type DebugInfoService interface {
	Info(ctx context.Context) (dto.DebugInfoResponse, error)
}

type debugInfoService struct {
	records      repository.GradingRecordRepository
	host         host.Adapter
	queue        QueueInspector
	subscription SubscriptionProbe
	logger       zerolog.Logger
}

// NewDebugInfoService constructs the diagnostics service. queue and subscription may be nil.
func NewDebugInfoService(records repository.GradingRecordRepository, adapter host.Adapter, inspector QueueInspector, subscription SubscriptionProbe, logger zerolog.Logger) DebugInfoService {
	return &debugInfoService{
		records:      records,
		host:         adapter,
		queue:        inspector,
		subscription: subscription,
		logger:       logger.With().Str("component", "debug_info_service").Logger(),
	}
}

func (s *debugInfoService) Info(ctx context.Context) (dto.DebugInfoResponse, error) {
	info := dto.DebugInfoResponse{
		TableExists:   s.records.TableExists(ctx),
		RecentRecords: []dto.GradingRecordResponse{},
		Host:          s.host.Capabilities(),
	}

	if info.TableExists {
		count, err := s.records.Count(ctx)
		if err != nil {
			return dto.DebugInfoResponse{}, err
		}
		info.RecordCount = count

		recent, err := s.records.Recent(ctx, 5)
		if err != nil {
			return dto.DebugInfoResponse{}, err
		}
		for _, record := range recent {
			info.RecentRecords = append(info.RecentRecords, dto.NewGradingRecordResponse(record))
		}
	}

	if s.subscription != nil {
		info.EventSubscriptionActive = s.subscription.Active()
	}

	if s.queue != nil {
		stats, err := s.queue.Stats(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("queue stats unavailable")
			info.QueueError = err.Error()
		} else {
			info.Queue = &stats
		}
	}

	return info, nil
}
