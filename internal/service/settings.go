package service

import (
	"context"
	"fmt"
	"strings"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/store"
)

const (
	defaultShopName = "Bondhon Enterprise"
	defaultLanguage = "bn"
	defaultTheme    = "light"
)

var (
	languages = map[string]bool{"bn": true, "en": true}
	themes    = map[string]bool{"light": true, "dark": true}
)

func (s *Service) Settings(ctx context.Context) (domain.Settings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if settings.ShopName == "" {
		settings.ShopName = defaultShopName
	}
	if settings.Language == "" {
		settings.Language = defaultLanguage
	}
	if settings.Theme == "" {
		settings.Theme = defaultTheme
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.Settings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}

	if req.ShopName != nil {
		name := strings.TrimSpace(*req.ShopName)
		if name == "" {
			return domain.Settings{}, fmt.Errorf("%w: shop name is required", store.ErrInvalidInput)
		}
		settings.ShopName = name
	}
	if req.Language != nil {
		lang := strings.ToLower(strings.TrimSpace(*req.Language))
		if !languages[lang] {
			return domain.Settings{}, fmt.Errorf("%w: unsupported language %q", store.ErrInvalidInput, *req.Language)
		}
		settings.Language = lang
	}
	if req.Theme != nil {
		theme := strings.ToLower(strings.TrimSpace(*req.Theme))
		if !themes[theme] {
			return domain.Settings{}, fmt.Errorf("%w: unsupported theme %q", store.ErrInvalidInput, *req.Theme)
		}
		settings.Theme = theme
	}

	settings.UpdatedAt = s.now()
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}
