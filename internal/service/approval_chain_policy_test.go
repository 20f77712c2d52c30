package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainflow-renewal/internal/models"
	"github.com/noah-isme/trainflow-renewal/pkg/config"
	appErrors "github.com/noah-isme/trainflow-renewal/pkg/errors"
)

func TestApprovalChainPolicyChainFor(t *testing.T) {
	policy, err := NewApprovalChainPolicy(config.RenewalConfig{
		DefaultChain: []string{"line_supervisor", "department_manager"},
		CategoryChains: map[string][]string{
			"safety": {"line_supervisor", "department_manager", "training_administrator"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]models.UserRole{models.RoleLineSupervisor, models.RoleDepartmentManager, models.RoleTrainingAdministrator},
		policy.ChainFor(models.Course{Category: " Safety "}))
	assert.Equal(t,
		[]models.UserRole{models.RoleLineSupervisor, models.RoleDepartmentManager},
		policy.ChainFor(models.Course{Category: "compliance"}))

	chain := policy.ChainFor(models.Course{})
	chain[0] = models.RoleWorker
	assert.Equal(t, models.RoleLineSupervisor, policy.ChainFor(models.Course{})[0])
}

func TestApprovalChainPolicyRejectsUnknownRoles(t *testing.T) {
	_, err := NewApprovalChainPolicy(config.RenewalConfig{DefaultChain: []string{"foreman"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = NewApprovalChainPolicy(config.RenewalConfig{})
	require.Error(t, err)

	_, err = NewApprovalChainPolicy(config.RenewalConfig{
		DefaultChain:   []string{"line_supervisor"},
		CategoryChains: map[string][]string{"safety": {"line_supervisor", "chief"}},
	})
	require.Error(t, err)
}

func TestApprovalChainPolicyRejectsWorkerApprover(t *testing.T) {
	_, err := NewApprovalChainPolicy(config.RenewalConfig{DefaultChain: []string{"line_supervisor", "worker"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
