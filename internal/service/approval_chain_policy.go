package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/trainflow-renewal/internal/models"
	"github.com/noah-isme/trainflow-renewal/pkg/config"
	appErrors "github.com/noah-isme/trainflow-renewal/pkg/errors"
)

// ApprovalChainPolicy resolves the ordered approver roles for a course.
type ApprovalChainPolicy struct {
	defaultChain []models.UserRole
	byCategory   map[string][]models.UserRole
}

// NewApprovalChainPolicy builds the policy from configuration, rejecting unknown roles.
func NewApprovalChainPolicy(cfg config.RenewalConfig) (*ApprovalChainPolicy, error) {
	defaultChain, err := parseApprovalChain(cfg.DefaultChain)
	if err != nil {
		return nil, fmt.Errorf("default approval chain: %w", err)
	}
	if len(defaultChain) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "default approval chain must not be empty")
	}
	policy := &ApprovalChainPolicy{
		defaultChain: defaultChain,
		byCategory:   make(map[string][]models.UserRole, len(cfg.CategoryChains)),
	}
	for category, roles := range cfg.CategoryChains {
		chain, err := parseApprovalChain(roles)
		if err != nil {
			return nil, fmt.Errorf("approval chain for category %q: %w", category, err)
		}
		if len(chain) > 0 {
			policy.byCategory[strings.ToLower(category)] = chain
		}
	}
	return policy, nil
}

// ChainFor returns a copy of the chain configured for the course category,
// falling back to the default chain.
func (p *ApprovalChainPolicy) ChainFor(course models.Course) []models.UserRole {
	chain := p.defaultChain
	if custom, ok := p.byCategory[strings.ToLower(strings.TrimSpace(course.Category))]; ok {
		chain = custom
	}
	return append([]models.UserRole(nil), chain...)
}

func parseApprovalChain(roles []string) ([]models.UserRole, error) {
	chain := make([]models.UserRole, 0, len(roles))
	for _, raw := range roles {
		role := models.UserRole(strings.ToLower(strings.TrimSpace(raw)))
		if !role.Valid() || role == models.RoleWorker {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%q cannot approve a renewal step", raw))
		}
		chain = append(chain, role)
	}
	return chain, nil
}
