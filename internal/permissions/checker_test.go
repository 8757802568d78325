package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hycredit/internal/database/testutil"
	"github.com/charlesng35/hycredit/internal/models"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
)

func TestRegisterPreventsDuplicates(t *testing.T) {
	id := "test.unique.permission"
	require.NoError(t, Register(&Permission{ID: id, Module: "test"}))
	t.Cleanup(func() { removePermission(id) })

	err := Register(&Permission{ID: id, Module: "test"})
	require.ErrorIs(t, err, errDuplicateID)

	require.ErrorIs(t, Register(&Permission{ID: "self.dep", DependsOn: []string{"self.dep"}}), errSelfDependency)
}

func TestResolveDependenciesReturnsTransitiveClosure(t *testing.T) {
	ids := []string{"perm.base", "perm.mid", "perm.top"}
	require.NoError(t, Register(&Permission{ID: ids[0], Module: "test"}))
	require.NoError(t, Register(&Permission{ID: ids[1], Module: "test", DependsOn: []string{ids[0]}}))
	require.NoError(t, Register(&Permission{ID: ids[2], Module: "test", DependsOn: []string{ids[1]}}))
	t.Cleanup(func() {
		for _, id := range ids {
			removePermission(id)
		}
	})

	deps, err := ResolveDependencies(ids[2])
	require.NoError(t, err)
	require.ElementsMatch(t, []string{ids[0], ids[1]}, deps)
}

func TestResolveDependenciesDetectsCycles(t *testing.T) {
	const (
		first  = "perm.cycle.first"
		second = "perm.cycle.second"
	)
	require.NoError(t, Register(&Permission{ID: first, Module: "test", DependsOn: []string{second}}))
	require.NoError(t, Register(&Permission{ID: second, Module: "test", DependsOn: []string{first}}))
	t.Cleanup(func() {
		removePermission(first)
		removePermission(second)
	})

	_, err := ResolveDependencies(first)
	require.ErrorIs(t, err, ErrCircularDependency)
}

func TestCoreCapabilitiesAreConsistent(t *testing.T) {
	require.NoError(t, ValidateDependencies())

	for op, capability := range operations {
		_, ok := Get(capability)
		require.True(t, ok, "operation %s maps to unregistered capability %s", op, capability)
	}
	for role, grants := range roleGrants {
		for _, capability := range grants {
			ok, err := HasCapability(role, capability)
			require.NoError(t, err)
			require.True(t, ok, "%s grant %s misses a dependency", role, capability)
		}
	}
}

func TestRoleGrants(t *testing.T) {
	cases := []struct {
		role    models.PartyRole
		op      Operation
		allowed bool
	}{
		{models.RoleProducer, OpCreateRequest, true},
		{models.RoleProducer, OpApproveRequest, false},
		{models.RoleProducer, OpTransferCredit, true},
		{models.RoleCertifier, OpApproveRequest, true},
		{models.RoleCertifier, OpRejectRequest, true},
		{models.RoleCertifier, OpCreateRequest, false},
		{models.RoleCertifier, OpRetireCredit, false},
		{models.RoleOperator, OpConfirmLedger, true},
		{models.RoleOperator, OpResubmitLedger, true},
		{models.RoleOperator, OpTransferCredit, false},
	}

	for _, tc := range cases {
		capability, ok := RequiredCapability(tc.op)
		require.True(t, ok)
		got, err := HasCapability(tc.role, capability)
		require.NoError(t, err)
		require.Equal(t, tc.allowed, got, "%s -> %s", tc.role, tc.op)
	}
}

func TestCheckerAuthorize(t *testing.T) {
	inactive := testutil.Certifier("certifier-off")
	inactive.IsActive = false

	db := testutil.MustOpenTestDB(t, testutil.WithParties(
		testutil.Producer("producer-1"),
		testutil.Certifier("certifier-1"),
	))
	// IsActive defaults to true on insert, so flip it afterwards.
	require.NoError(t, db.Create(&inactive).Error)
	require.NoError(t, db.Model(&models.Party{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)

	checker, err := NewChecker(db)
	require.NoError(t, err)
	ctx := context.Background()

	party, err := checker.Authorize(ctx, Actor{ID: "certifier-1", Role: models.RoleCertifier}, OpApproveRequest)
	require.NoError(t, err)
	require.Equal(t, models.RoleCertifier, party.Role)

	// stored role wins over the asserted one
	_, err = checker.Authorize(ctx, Actor{ID: "producer-1", Role: models.RoleCertifier}, OpApproveRequest)
	require.ErrorIs(t, err, appErrors.ErrAuthorization)

	_, err = checker.Authorize(ctx, Actor{ID: "ghost"}, OpViewRequest)
	require.ErrorIs(t, err, appErrors.ErrAuthorization)

	_, err = checker.Authorize(ctx, Actor{ID: inactive.ID}, OpViewRequest)
	require.ErrorIs(t, err, appErrors.ErrAuthorization)

	_, err = checker.Authorize(ctx, Actor{ID: "producer-1"}, Operation("launch_rocket"))
	require.Error(t, err)
}

func TestNewCheckerRequiresDB(t *testing.T) {
	_, err := NewChecker(nil)
	require.Error(t, err)
}
