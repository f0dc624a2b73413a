package service

import (
	"context"
	"fmt"
	"strings"

	"adwatch/pkg/models"
	"adwatch/pkg/utils"
)

// CreateProject saves a new search project. The search URL is normalized on
// the way in so every later refresh crawls the same canonical form.
func (s *Service) CreateProject(ctx context.Context, userID int64, name, rawURL, notes string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", utils.ErrConfigValidation)
	}
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: project search URL is required", utils.ErrConfigValidation)
	}

	project := &models.Project{
		UserID:    userID,
		Name:      name,
		SearchURL: s.normalizer.Normalize(rawURL),
		Notes:     notes,
		IsActive:  true,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.log.WithField("project_id", project.ID).Info("Project created")
	return project, nil
}

// SetProjectActive flips a project's active flag. Inactive projects are
// skipped by refresh-all but keep their history.
func (s *Service) SetProjectActive(ctx context.Context, projectID int64, active bool) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.IsActive == active {
		return nil
	}
	project.IsActive = active
	return s.store.UpdateProject(ctx, project)
}

// ListProjects returns a user's projects, newest first.
func (s *Service) ListProjects(ctx context.Context, userID int64) ([]models.Project, error) {
	return s.store.ListProjects(ctx, userID)
}

// ListSnapshots returns a project's aggregate history, newest first.
func (s *Service) ListSnapshots(ctx context.Context, projectID int64, limit, offset int) ([]models.Snapshot, error) {
	return s.store.ListSnapshots(ctx, projectID, limit, offset)
}
