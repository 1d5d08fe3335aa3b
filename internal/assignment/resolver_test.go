package assignment

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/config"
	"taskforge/internal/directory"
	"taskforge/internal/rules"
)

// fakeDirectory serves a fixed employee set from memory
type fakeDirectory struct {
	employees map[string]*directory.Employee
	profiles  map[string]*directory.RoleProfile
	heads     map[string]string // "subsidiary/department" -> employee id
}

func (f *fakeDirectory) GetByID(_ context.Context, id string) (*directory.Employee, error) {
	emp, ok := f.employees[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return emp, nil
}

func (f *fakeDirectory) GetByEmail(_ context.Context, email string) (*directory.Employee, error) {
	for _, emp := range f.employees {
		if emp.Email == email {
			return emp, nil
		}
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) GetByExternalID(_ context.Context, externalID string) (*directory.Employee, error) {
	for _, emp := range f.employees {
		if emp.ExternalID == externalID {
			return emp, nil
		}
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) ListScope(_ context.Context, subsidiary, department string) ([]*directory.Employee, error) {
	var out []*directory.Employee
	for _, emp := range f.employees {
		if subsidiary != "" && emp.Subsidiary != subsidiary {
			continue
		}
		if department != "" && emp.Department != department {
			continue
		}
		out = append(out, emp)
	}
	return out, nil
}

func (f *fakeDirectory) RoleProfile(_ context.Context, role string) (*directory.RoleProfile, error) {
	profile, ok := f.profiles[role]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return profile, nil
}

func (f *fakeDirectory) DepartmentHead(_ context.Context, subsidiary, department string) (*directory.Employee, error) {
	id, ok := f.heads[subsidiary+"/"+department]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return f.employees[id], nil
}

// fakeWorkload counts per employee in memory
type fakeWorkload struct {
	counts map[string]int
}

func (f *fakeWorkload) Current(_ context.Context, id string) (int, error) {
	return f.counts[id], nil
}

func (f *fakeWorkload) Increment(_ context.Context, id string) (int, error) {
	f.counts[id]++
	return f.counts[id], nil
}

func (f *fakeWorkload) Decrement(_ context.Context, id string) (int, error) {
	if f.counts[id] > 0 {
		f.counts[id]--
	}
	return f.counts[id], nil
}

func strPtr(s string) *string { return &s }

func testFixture() (*fakeDirectory, *fakeWorkload) {
	dir := &fakeDirectory{
		employees: map[string]*directory.Employee{
			"emp-agent-1": {
				ID: "emp-agent-1", Name: "Nina Weiss", Email: "nina@example.com",
				Subsidiary: "emea", Department: "finance", Status: directory.StatusActive,
				Roles: []string{"collections-agent"},
			},
			"emp-agent-2": {
				ID: "emp-agent-2", Name: "Tomas Berg", Email: "tomas@example.com",
				Subsidiary: "emea", Department: "finance", Status: directory.StatusActive,
				Roles: []string{"collections-agent"},
			},
			"emp-agent-leave": {
				ID: "emp-agent-leave", Name: "Ines Roth", Email: "ines@example.com",
				Subsidiary: "emea", Department: "finance", Status: directory.StatusOnLeave,
				Roles: []string{"collections-agent"},
			},
			"emp-head": {
				ID: "emp-head", Name: "Clara Fuchs", Email: "clara@example.com",
				Subsidiary: "emea", Department: "finance", Status: directory.StatusActive,
				IsHead: true,
			},
			"emp-rep": {
				ID: "emp-rep", Name: "Omar Said", Email: "omar@example.com",
				Subsidiary: "emea", Department: "sales", Status: directory.StatusActive,
				Title: "Sales Rep", ReportsTo: strPtr("emp-sales-mgr"),
			},
			"emp-sales-mgr": {
				ID: "emp-sales-mgr", Name: "Lea Vogt", Email: "lea@example.com",
				Subsidiary: "emea", Department: "sales", Status: directory.StatusActive,
			},
			"emp-gone": {
				ID: "emp-gone", Name: "Former Employee", Email: "gone@example.com",
				Subsidiary: "emea", Department: "sales", Status: directory.StatusInactive,
			},
		},
		profiles: map[string]*directory.RoleProfile{
			"collections-agent": {Name: "collections-agent", MaxConcurrent: 5},
		},
		heads: map[string]string{
			"emea/finance": "emp-head",
		},
	}
	wl := &fakeWorkload{counts: map[string]int{}}
	return dir, wl
}

func newTestResolver(dir directory.Directory, wl directory.WorkloadCounter) *Resolver {
	cfg := config.EngineConfig{
		WorkloadBalancing:      true,
		DefaultWorkloadCeiling: 10,
		MaxFallbackDepth:       5,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewResolver(cfg, dir, wl, logger)
}

func TestResolve_User(t *testing.T) {
	dir, wl := testFixture()
	resolver := newTestResolver(dir, wl)
	ctx := context.Background()

	t.Run("active user resolves directly", func(t *testing.T) {
		result := resolver.Resolve(ctx, rules.AssignmentRule{Type: rules.AssignUser, Value: "emp-rep"}, Context{})
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-rep", result.AssigneeID)
		assert.Equal(t, "Omar Said", result.AssigneeName)
		assert.Equal(t, rules.AssignUser, result.Method)
		assert.False(t, result.FallbackUsed)
	})

	t.Run("inactive user fails without substitution", func(t *testing.T) {
		result := resolver.Resolve(ctx, rules.AssignmentRule{Type: rules.AssignUser, Value: "emp-gone"}, Context{})
		assert.False(t, result.Resolved)
		assert.ErrorIs(t, result.Err, ErrNoSuitableAssignee)
	})

	t.Run("unknown user fails", func(t *testing.T) {
		result := resolver.Resolve(ctx, rules.AssignmentRule{Type: rules.AssignUser, Value: "nobody"}, Context{})
		assert.False(t, result.Resolved)
		assert.ErrorIs(t, result.Err, ErrNoSuitableAssignee)
	})
}

func TestResolve_Role(t *testing.T) {
	ctx := context.Background()
	actx := Context{Subsidiary: "emea", Department: "finance"}
	rule := rules.AssignmentRule{Type: rules.AssignRole, Value: "collections-agent"}

	t.Run("least loaded role holder wins", func(t *testing.T) {
		dir, wl := testFixture()
		wl.counts["emp-agent-1"] = 3
		wl.counts["emp-agent-2"] = 1

		result := newTestResolver(dir, wl).Resolve(ctx, rule, actx)
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-agent-2", result.AssigneeID)
	})

	t.Run("on-leave role holders are skipped", func(t *testing.T) {
		dir, wl := testFixture()
		wl.counts["emp-agent-1"] = 3
		wl.counts["emp-agent-2"] = 3
		wl.counts["emp-agent-leave"] = 0

		result := newTestResolver(dir, wl).Resolve(ctx, rule, actx)
		require.True(t, result.Resolved)
		assert.NotEqual(t, "emp-agent-leave", result.AssigneeID)
	})

	t.Run("profile capacity ceiling excludes saturated candidates", func(t *testing.T) {
		dir, wl := testFixture()
		// Profile ceiling is 5, below the engine default of 10.
		wl.counts["emp-agent-1"] = 5
		wl.counts["emp-agent-2"] = 5

		result := newTestResolver(dir, wl).Resolve(ctx, rule, actx)
		assert.False(t, result.Resolved)
	})

	t.Run("title match works without an explicit grant", func(t *testing.T) {
		dir, wl := testFixture()
		result := newTestResolver(dir, wl).Resolve(ctx,
			rules.AssignmentRule{Type: rules.AssignRole, Value: "sales-rep"},
			Context{Subsidiary: "emea", Department: "sales"})
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-rep", result.AssigneeID)
	})
}

func TestResolve_Department(t *testing.T) {
	ctx := context.Background()
	rule := rules.AssignmentRule{Type: rules.AssignDepartment, Value: "finance"}
	actx := Context{Subsidiary: "emea"}

	t.Run("department head preferred", func(t *testing.T) {
		dir, wl := testFixture()
		result := newTestResolver(dir, wl).Resolve(ctx, rule, actx)
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-head", result.AssigneeID)
	})

	t.Run("saturated head falls back to least loaded member", func(t *testing.T) {
		dir, wl := testFixture()
		wl.counts["emp-head"] = 10
		wl.counts["emp-agent-1"] = 2
		wl.counts["emp-agent-2"] = 1

		result := newTestResolver(dir, wl).Resolve(ctx, rule, actx)
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-agent-2", result.AssigneeID)
	})

	t.Run("empty value uses the context department", func(t *testing.T) {
		dir, wl := testFixture()
		result := newTestResolver(dir, wl).Resolve(ctx,
			rules.AssignmentRule{Type: rules.AssignDepartment},
			Context{Subsidiary: "emea", Department: "finance"})
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-head", result.AssigneeID)
	})
}

func TestResolve_Manager(t *testing.T) {
	dir, wl := testFixture()
	resolver := newTestResolver(dir, wl)
	ctx := context.Background()

	t.Run("manager follows the reporting line", func(t *testing.T) {
		result := resolver.Resolve(ctx, rules.AssignmentRule{Type: rules.AssignManager},
			Context{TriggerUserID: "emp-rep"})
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-sales-mgr", result.AssigneeID)
	})

	t.Run("no declared manager fails", func(t *testing.T) {
		result := resolver.Resolve(ctx, rules.AssignmentRule{Type: rules.AssignManager},
			Context{TriggerUserID: "emp-sales-mgr"})
		assert.False(t, result.Resolved)
	})
}

func TestResolve_Dynamic(t *testing.T) {
	dir, wl := testFixture()
	resolver := newTestResolver(dir, wl)
	ctx := context.Background()

	t.Run("reads the assignee from a payload path", func(t *testing.T) {
		result := resolver.Resolve(ctx,
			rules.AssignmentRule{Type: rules.AssignDynamic, Value: "account.ownerId"},
			Context{Entity: map[string]any{"account": map[string]any{"ownerId": "emp-rep"}}})
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-rep", result.AssigneeID)
	})

	t.Run("non-string field fails", func(t *testing.T) {
		result := resolver.Resolve(ctx,
			rules.AssignmentRule{Type: rules.AssignDynamic, Value: "account.ownerId"},
			Context{Entity: map[string]any{"account": map[string]any{"ownerId": 42}}})
		assert.False(t, result.Resolved)
	})
}

func TestResolve_FallbackChain(t *testing.T) {
	ctx := context.Background()

	t.Run("fallback engages when primary fails and marks the result", func(t *testing.T) {
		dir, wl := testFixture()
		rule := rules.AssignmentRule{
			Type: rules.AssignUser, Value: "nobody",
			Fallback: &rules.AssignmentRule{Type: rules.AssignDepartment, Value: "finance"},
		}
		result := newTestResolver(dir, wl).Resolve(ctx, rule, Context{Subsidiary: "emea"})
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-head", result.AssigneeID)
		assert.Equal(t, rules.AssignDepartment, result.Method)
		assert.True(t, result.FallbackUsed)
	})

	t.Run("primary success never reports fallback", func(t *testing.T) {
		dir, wl := testFixture()
		rule := rules.AssignmentRule{
			Type: rules.AssignUser, Value: "emp-rep",
			Fallback: &rules.AssignmentRule{Type: rules.AssignDepartment, Value: "finance"},
		}
		result := newTestResolver(dir, wl).Resolve(ctx, rule, Context{Subsidiary: "emea"})
		require.True(t, result.Resolved)
		assert.False(t, result.FallbackUsed)
	})

	t.Run("role falls back to manager then department", func(t *testing.T) {
		dir, wl := testFixture()
		// No one in finance matches the role, so the chain walks to the
		// trigger user's manager.
		rule := rules.AssignmentRule{
			Type: rules.AssignRole, Value: "pricing-analyst",
			Fallback: &rules.AssignmentRule{
				Type: rules.AssignManager,
				Fallback: &rules.AssignmentRule{Type: rules.AssignDepartment, Value: "finance"},
			},
		}
		result := newTestResolver(dir, wl).Resolve(ctx, rule,
			Context{Subsidiary: "emea", Department: "finance", TriggerUserID: "emp-rep"})
		require.True(t, result.Resolved)
		assert.Equal(t, "emp-sales-mgr", result.AssigneeID)
		assert.True(t, result.FallbackUsed)
	})

	t.Run("exhausted chain reports fallback attempted", func(t *testing.T) {
		dir, wl := testFixture()
		rule := rules.AssignmentRule{
			Type: rules.AssignUser, Value: "nobody",
			Fallback: &rules.AssignmentRule{Type: rules.AssignUser, Value: "also-nobody"},
		}
		result := newTestResolver(dir, wl).Resolve(ctx, rule, Context{})
		assert.False(t, result.Resolved)
		assert.True(t, result.FallbackUsed)
		assert.ErrorIs(t, result.Err, ErrNoSuitableAssignee)
	})

	t.Run("single failed rule reports no fallback", func(t *testing.T) {
		dir, wl := testFixture()
		result := newTestResolver(dir, wl).Resolve(ctx,
			rules.AssignmentRule{Type: rules.AssignUser, Value: "nobody"}, Context{})
		assert.False(t, result.Resolved)
		assert.False(t, result.FallbackUsed)
	})

	t.Run("chain depth is capped", func(t *testing.T) {
		dir, wl := testFixture()
		// Build a chain longer than the configured depth, ending in a rule
		// that would resolve. The cap has to cut it off first.
		tail := &rules.AssignmentRule{Type: rules.AssignUser, Value: "emp-rep"}
		head := tail
		for i := 0; i < 10; i++ {
			head = &rules.AssignmentRule{Type: rules.AssignUser, Value: "nobody", Fallback: head}
		}
		result := newTestResolver(dir, wl).Resolve(ctx, *head, Context{})
		assert.False(t, result.Resolved)
	})
}
