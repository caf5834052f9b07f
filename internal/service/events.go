package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/domain"
)

// HandleEvent dispatches an inbound platform event
func (s *AchievementService) HandleEvent(ctx context.Context, event domain.PlatformEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	member := event.Member()

	switch event.Type {
	case domain.EventMessage:
		return s.HandleMessage(ctx, member, event.ChannelID)

	case domain.EventMemberJoin:
		return s.MemberJoined(ctx, member)

	case domain.EventMemberLeave:
		return s.MemberLeft(ctx, member)

	case domain.EventLevelUp:
		return s.handleMetricEvent(ctx, domain.MetricLevels, event)

	case domain.EventXPAdd:
		return s.handleMetricEvent(ctx, domain.MetricXP, event)

	case domain.EventBalanceAdd:
		return s.handleMetricEvent(ctx, domain.MetricMoney, event)
	}

	return domain.InvalidValue("type", "is not a known event type")
}

// HandleMessage records the member's last channel, counts the message and
// updates MESSAGES achievements
func (s *AchievementService) HandleMessage(ctx context.Context, member domain.Member, channelID string) error {
	if err := validateID("community_id", member.CommunityID); err != nil {
		return err
	}
	if err := validateMemberID(member.ID); err != nil {
		return err
	}

	if channelID != "" {
		if _, err := s.store.Set(ctx, memberKey(member.CommunityID, member.ID, "last_message_channel_id"), channelID); err != nil {
			return fmt.Errorf("storing last channel: %w", err)
		}
	}

	if err := s.observeMember(ctx, member); err != nil {
		return err
	}

	if member.Bot {
		return nil
	}

	if _, err := s.store.Add(ctx, memberKey(member.CommunityID, member.ID, "messages"), 1); err != nil {
		return fmt.Errorf("counting message: %w", err)
	}

	return s.HandleProgressUpdate(ctx, domain.MetricMessages, domain.MetricPayload{}, member, channelID)
}

// MemberJoined adds the member to the directory and recomputes every
// achievement's completion percentage
func (s *AchievementService) MemberJoined(ctx context.Context, member domain.Member) error {
	if err := validateID("community_id", member.CommunityID); err != nil {
		return err
	}
	if err := validateMemberID(member.ID); err != nil {
		return err
	}

	entry := domain.MemberEntry{Bot: member.Bot, JoinedAt: s.timestamp()}
	if _, err := s.store.Set(ctx, directoryKey(member.CommunityID, member.ID), entry); err != nil {
		return fmt.Errorf("registering member: %w", err)
	}

	s.logger.Debug("member joined", "community_id", member.CommunityID, "member_id", member.ID, "bot", member.Bot)
	return s.recomputeAll(ctx, member.CommunityID)
}

// MemberLeft removes the member from the directory and recomputes every
// achievement's completion percentage
func (s *AchievementService) MemberLeft(ctx context.Context, member domain.Member) error {
	if err := validateID("community_id", member.CommunityID); err != nil {
		return err
	}
	if err := validateMemberID(member.ID); err != nil {
		return err
	}

	if _, err := s.store.Delete(ctx, directoryKey(member.CommunityID, member.ID)); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}

	s.logger.Debug("member left", "community_id", member.CommunityID, "member_id", member.ID)
	return s.recomputeAll(ctx, member.CommunityID)
}

// LastChannel returns the channel of the member's last message, or ""
func (s *AchievementService) LastChannel(ctx context.Context, communityID, memberID string) (string, error) {
	channel, _, err := docstore.FetchAs[string](ctx, s.store, memberKey(communityID, memberID, "last_message_channel_id"))
	if err != nil {
		return "", fmt.Errorf("loading last channel: %w", err)
	}
	return channel, nil
}

func (s *AchievementService) handleMetricEvent(ctx context.Context, metric domain.MetricType, event domain.PlatformEvent) error {
	member := event.Member()

	if err := validateID("community_id", member.CommunityID); err != nil {
		return err
	}
	if err := validateMemberID(member.ID); err != nil {
		return err
	}
	if err := s.observeMember(ctx, member); err != nil {
		return err
	}

	channelID := event.ChannelID
	if channelID == "" {
		var err error
		if channelID, err = s.LastChannel(ctx, member.CommunityID, member.ID); err != nil {
			return err
		}
	}

	return s.HandleProgressUpdate(ctx, metric, event.Payload, member, channelID)
}

func (s *AchievementService) recomputeAll(ctx context.Context, communityID string) error {
	achievements, err := s.All(ctx, communityID)
	if err != nil {
		return err
	}

	var errs []error
	for _, a := range achievements {
		err := a.recompute(ctx)
		if errors.Is(err, domain.ErrTargetNotFound) {
			// deleted since it was listed
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("recomputing achievement %d: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

// observeMember registers a member seen through activity but never through a join
func (s *AchievementService) observeMember(ctx context.Context, member domain.Member) error {
	key := directoryKey(member.CommunityID, member.ID)

	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("checking member directory: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := s.store.Set(ctx, key, domain.MemberEntry{Bot: member.Bot}); err != nil {
		return fmt.Errorf("registering member: %w", err)
	}
	return nil
}

// memberDirectory counts members from <community>.members
type memberDirectory struct {
	store *docstore.Manager
}

// CountMembers returns the number of registered members and how many are bots
func (d *memberDirectory) CountMembers(ctx context.Context, communityID string) (int, int, error) {
	entries, _, err := docstore.FetchAs[map[string]domain.MemberEntry](ctx, d.store, docstore.Join(communityID, membersField))
	if err != nil {
		return 0, 0, err
	}

	bots := 0
	for _, e := range entries {
		if e.Bot {
			bots++
		}
	}
	return len(entries), bots, nil
}

func directoryKey(communityID, memberID string) string {
	return docstore.Join(communityID, membersField, memberID)
}
