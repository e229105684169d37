package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/xid"
)

// CreateCampaign validates the rule once and stores an active campaign.
func (s *Service) CreateCampaign(ctx context.Context, req domain.CampaignCreateRequest) (domain.Campaign, error) {
	now := s.now()
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Campaign{}, fmt.Errorf("%w: campaign name is required", domain.ErrValidation)
	}
	if req.Rule == nil {
		return domain.Campaign{}, fmt.Errorf("%w: campaign rule is required", domain.ErrValidation)
	}
	if err := req.Rule.Validate(); err != nil {
		return domain.Campaign{}, err
	}
	if req.StartsAt.IsZero() {
		req.StartsAt = now
	}
	if !req.StartsAt.Before(req.EndsAt) {
		return domain.Campaign{}, fmt.Errorf("%w: campaign must start before it ends", domain.ErrValidation)
	}
	if !req.EndsAt.After(now) {
		return domain.Campaign{}, fmt.Errorf("%w: campaign end is in the past", domain.ErrValidation)
	}

	refs := req.Rule.References()
	if len(refs) > 0 {
		known, err := s.repo.GetProducts(ctx, refs)
		if err != nil {
			return domain.Campaign{}, err
		}
		for _, id := range refs {
			if _, ok := known[id]; !ok {
				return domain.Campaign{}, fmt.Errorf("%w: unknown product %s", domain.ErrValidation, id)
			}
		}
	}

	saved, err := s.repo.CreateCampaign(ctx, domain.Campaign{
		ID:        xid.New("camp"),
		Name:      req.Name,
		Rule:      req.Rule,
		Active:    true,
		StartsAt:  req.StartsAt.UTC(),
		EndsAt:    req.EndsAt.UTC(),
		CreatedAt: now,
	})
	if err != nil {
		return domain.Campaign{}, err
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", saved.ID),
		zap.String("rule", string(saved.Rule.Type())),
	)
	return *saved, nil
}

func (s *Service) ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return s.repo.ListActiveCampaigns(ctx, s.now())
}

// DeactivateCampaign switches a campaign off for good. Receipts already
// evaluated keep their discounts until their next mutation.
func (s *Service) DeactivateCampaign(ctx context.Context, campaignID string) (domain.Campaign, error) {
	existing, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if !existing.Active {
		return *existing, nil
	}

	updated, err := s.repo.DeactivateCampaign(ctx, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	s.logger.Info("campaign deactivated", zap.String("campaign_id", campaignID))
	return *updated, nil
}
