package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/domain"
)

// HandleProgressUpdate recomputes the member's progress on every achievement
// of the member's community that tracks metric. Progress below 100 is stored
// and emitted; reaching 100 grants the achievement. Bots are ignored.
func (s *AchievementService) HandleProgressUpdate(
	ctx context.Context,
	metric domain.MetricType,
	payload domain.MetricPayload,
	member domain.Member,
	channelID string,
) error {
	if member.Bot {
		return nil
	}
	if !metric.Valid() {
		return domain.InvalidValue("metric", "must be one of MONEY, MESSAGES, LEVELS, XP")
	}
	if err := validateMemberID(member.ID); err != nil {
		return err
	}

	achievements, err := s.All(ctx, member.CommunityID)
	if err != nil {
		return err
	}

	var tracked []*Achievement
	for _, a := range achievements {
		if a.TrackingTarget != nil && a.TrackingTarget.Type == metric && a.TrackingTarget.Target > 0 {
			tracked = append(tracked, a)
		}
	}
	if len(tracked) == 0 {
		return nil
	}

	value, err := s.metricValue(ctx, metric, payload, member)
	if err != nil {
		return err
	}

	var errs []error
	for _, a := range tracked {
		if a.IsCompleted(member.ID) {
			continue
		}
		if err := s.applyProgress(ctx, a, value, member, channelID); err != nil {
			s.logger.Error("failed to apply achievement progress",
				"community_id", member.CommunityID,
				"achievement_id", a.ID,
				"member_id", member.ID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleManyProgressUpdates runs each update in order and joins their errors
func (s *AchievementService) HandleManyProgressUpdates(
	ctx context.Context,
	updates []domain.MetricUpdate,
	member domain.Member,
	channelID string,
) error {
	var errs []error
	for _, u := range updates {
		if err := s.HandleProgressUpdate(ctx, u.Type, u.Payload, member, channelID); err != nil {
			errs = append(errs, fmt.Errorf("%s update: %w", u.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (s *AchievementService) applyProgress(ctx context.Context, a *Achievement, value float64, member domain.Member, channelID string) error {
	progress := progressPercent(value, a.TrackingTarget.Target)

	if progress >= 100 {
		_, err := a.Grant(ctx, member.ID, channelID)
		return err
	}

	entry, err := a.Progresses.Set(ctx, member.ID, progress)
	if err != nil {
		return err
	}

	s.logger.Debug("achievement progress updated",
		"community_id", member.CommunityID,
		"achievement_id", a.ID,
		"member_id", member.ID,
		"progress", entry.Progress,
	)

	s.emitProgress(ctx, domain.ProgressEvent{
		CommunityID: member.CommunityID,
		MemberID:    member.ID,
		ChannelID:   channelID,
		Achievement: a.Record(),
		Progress:    entry.Progress,
	})
	return nil
}

// metricValue resolves the member's current value for metric
func (s *AchievementService) metricValue(ctx context.Context, metric domain.MetricType, payload domain.MetricPayload, member domain.Member) (float64, error) {
	switch metric {
	case domain.MetricMessages:
		count, _, err := docstore.FetchAs[float64](ctx, s.store, memberKey(member.CommunityID, member.ID, "messages"))
		if err != nil {
			return 0, fmt.Errorf("loading message count: %w", err)
		}
		return count, nil

	case domain.MetricLevels:
		if payload.Level == nil {
			return 0, domain.RequiredParameterMissing("payload.level")
		}
		return *payload.Level, nil

	case domain.MetricXP:
		if payload.TotalXP == nil {
			return 0, domain.RequiredParameterMissing("payload.total_xp")
		}
		if payload.GainedXP == nil {
			return 0, domain.RequiredParameterMissing("payload.gained_xp")
		}
		return *payload.TotalXP - *payload.GainedXP, nil

	case domain.MetricMoney:
		if payload.Balance == nil {
			return 0, domain.RequiredParameterMissing("payload.balance")
		}
		return *payload.Balance, nil
	}

	return 0, domain.InvalidValue("metric", "is not tracked")
}

// progressPercent is floor(value / target * 100), never negative
func progressPercent(value, target float64) int {
	p := math.Floor(value / target * 100)
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	if p > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(p)
}
