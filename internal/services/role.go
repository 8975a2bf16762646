package services

import (
	"context"

	"github.com/nexocrm/authsvc/types"
)

// RoleService exposes the role catalogue.
type RoleService struct {
	repo RoleRepository
}

func NewRoleService(repo RoleRepository) *RoleService {
	return &RoleService{repo: repo}
}

// List returns all roles ordered by name.
func (s *RoleService) List(ctx context.Context) ([]types.Role, error) {
	return s.repo.List(ctx)
}
