package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"taskforge/internal/config"
	"taskforge/internal/directory"
	"taskforge/internal/rules"
)

// ErrNoSuitableAssignee is returned when the primary rule and its whole
// fallback chain fail to resolve anyone.
var ErrNoSuitableAssignee = errors.New("no suitable assignee")

// Context carries the scope and trigger information a resolution runs in
type Context struct {
	Subsidiary    string
	Department    string
	TriggerUserID string
	// Entity is the event payload or entity attribute map, read by the
	// dynamic strategy.
	Entity map[string]any
}

// Result is the outcome of one resolution attempt over a rule chain.
// FallbackUsed is true iff the rule that resolved was not the primary.
type Result struct {
	Resolved     bool   `json:"resolved"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	AssigneeName string `json:"assignee_name,omitempty"`
	Method       string `json:"method,omitempty"`
	FallbackUsed bool   `json:"fallback_used"`
	Err          error  `json:"-"`
}

// Resolver turns abstract assignment rules into concrete assignees. It reads
// the directory and workload counters but never writes: workload increments
// belong to the caller, applied only after the work item is persisted.
type Resolver struct {
	cfg      config.EngineConfig
	dir      directory.Directory
	workload directory.WorkloadCounter
	logger   *slog.Logger
}

// NewResolver creates an assignment resolver
func NewResolver(cfg config.EngineConfig, dir directory.Directory, workload directory.WorkloadCounter, logger *slog.Logger) *Resolver {
	return &Resolver{
		cfg:      cfg,
		dir:      dir,
		workload: workload,
		logger:   logger,
	}
}

// Resolve tries the rule and then its fallback chain, in order, returning
// the first successful resolution. Chain depth is capped so malformed
// configuration cannot recurse unboundedly.
func (r *Resolver) Resolve(ctx context.Context, rule rules.AssignmentRule, actx Context) Result {
	var lastErr error
	attempts := 0

	current := &rule
	for depth := 0; current != nil && depth <= r.cfg.MaxFallbackDepth; depth++ {
		attempts++
		emp, err := r.resolveOne(ctx, *current, actx)
		if err == nil {
			if depth > 0 {
				r.logger.Info("Assignment resolved through fallback",
					"method", current.Type,
					"assignee_id", emp.ID,
					"fallback_depth", depth)
			}
			return Result{
				Resolved:     true,
				AssigneeID:   emp.ID,
				AssigneeName: emp.Name,
				Method:       current.Type,
				FallbackUsed: depth > 0,
			}
		}

		lastErr = err
		r.logger.Debug("Assignment strategy failed, trying fallback",
			"method", current.Type,
			"value", current.Value,
			"error", err)
		current = current.Fallback
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("empty assignment rule")
	}
	return Result{
		Resolved:     false,
		FallbackUsed: attempts > 1,
		Err:          fmt.Errorf("%w: %v", ErrNoSuitableAssignee, lastErr),
	}
}

func (r *Resolver) resolveOne(ctx context.Context, rule rules.AssignmentRule, actx Context) (*directory.Employee, error) {
	switch rule.Type {
	case rules.AssignRole:
		return r.resolveRole(ctx, rule.Value, actx)
	case rules.AssignDepartment:
		return r.resolveDepartment(ctx, rule.Value, actx)
	case rules.AssignUser:
		return r.resolveUser(ctx, rule.Value)
	case rules.AssignManager:
		return r.resolveManager(ctx, actx)
	case rules.AssignCreator:
		return r.resolveUser(ctx, actx.TriggerUserID)
	case rules.AssignDynamic:
		return r.resolveDynamic(ctx, rule.Value, actx)
	default:
		return nil, fmt.Errorf("unknown assignment rule type: %s", rule.Type)
	}
}

// candidate pairs an employee with its role match score and current workload
type candidate struct {
	employee *directory.Employee
	score    int
	workload int
}

// resolveRole finds the best-fitting member of a role within the context's
// scope. Explicit role grants outrank the title/skill overlap heuristic;
// candidates at or over the capacity ceiling are excluded entirely.
func (r *Resolver) resolveRole(ctx context.Context, role string, actx Context) (*directory.Employee, error) {
	if role == "" {
		return nil, fmt.Errorf("role assignment rule has no role value")
	}

	profile, err := r.dir.RoleProfile(ctx, role)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("failed to load role profile %q: %w", role, err)
	}

	employees, err := r.dir.ListScope(ctx, actx.Subsidiary, actx.Department)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees for role %q: %w", role, err)
	}

	ceiling := r.capacityCeiling(profile)

	var candidates []candidate
	for _, emp := range employees {
		if !emp.Active() {
			continue
		}
		score := roleMatchScore(emp, role, profile)
		if score == 0 {
			continue
		}

		load, err := r.workload.Current(ctx, emp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read workload for %s: %w", emp.ID, err)
		}
		if load >= ceiling {
			continue
		}

		candidates = append(candidates, candidate{employee: emp, score: score, workload: load})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no active employee under capacity matches role %q in %s/%s",
			role, actx.Subsidiary, actx.Department)
	}

	r.rank(candidates)
	return candidates[0].employee, nil
}

// capacityCeiling applies the role profile's own ceiling when it declares
// one, falling back to the engine-wide default otherwise.
func (r *Resolver) capacityCeiling(profile *directory.RoleProfile) int {
	if profile != nil && profile.MaxConcurrent > 0 {
		return profile.MaxConcurrent
	}
	return r.cfg.DefaultWorkloadCeiling
}

// rank orders candidates: ascending workload first when balancing is on,
// descending match score as the tie-breaker (and the primary order when
// balancing is off).
func (r *Resolver) rank(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if r.cfg.WorkloadBalancing && candidates[i].workload != candidates[j].workload {
			return candidates[i].workload < candidates[j].workload
		}
		return candidates[i].score > candidates[j].score
	})
}

// roleMatchScore scores how well an employee fits a role. An explicit grant
// dominates; otherwise title tokens and skill overlap contribute.
func roleMatchScore(emp *directory.Employee, role string, profile *directory.RoleProfile) int {
	if emp.HasRole(role) {
		return 100
	}

	score := 0
	roleToken := strings.ReplaceAll(strings.ToLower(role), "-", " ")
	if strings.Contains(strings.ToLower(emp.Title), roleToken) {
		score += 10
	}

	if profile != nil {
		for _, title := range profile.Titles {
			if strings.EqualFold(emp.Title, title) {
				score += 10
			}
		}
		for _, skill := range profile.Skills {
			for _, has := range emp.Skills {
				if strings.EqualFold(skill, has) {
					score += 2
				}
			}
		}
	}

	return score
}

// resolveDepartment prefers the department head when present, available and
// under capacity, otherwise the least-loaded active member.
func (r *Resolver) resolveDepartment(ctx context.Context, dept string, actx Context) (*directory.Employee, error) {
	if dept == "" {
		dept = actx.Department
	}
	if dept == "" {
		return nil, fmt.Errorf("department assignment rule has no department")
	}

	head, err := r.dir.DepartmentHead(ctx, actx.Subsidiary, dept)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up department head: %w", err)
	}
	if head != nil && head.Active() {
		load, err := r.workload.Current(ctx, head.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read workload for %s: %w", head.ID, err)
		}
		if load < r.cfg.DefaultWorkloadCeiling {
			return head, nil
		}
	}

	employees, err := r.dir.ListScope(ctx, actx.Subsidiary, dept)
	if err != nil {
		return nil, fmt.Errorf("failed to list department %q members: %w", dept, err)
	}

	var candidates []candidate
	for _, emp := range employees {
		if !emp.Active() {
			continue
		}
		load, err := r.workload.Current(ctx, emp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read workload for %s: %w", emp.ID, err)
		}
		if load >= r.cfg.DefaultWorkloadCeiling {
			continue
		}
		candidates = append(candidates, candidate{employee: emp, workload: load})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no available employee in department %q of %s", dept, actx.Subsidiary)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].workload < candidates[j].workload
	})
	return candidates[0].employee, nil
}

// resolveUser verifies the referenced identity exists and is active. There
// is no silent substitution: an inactive or unknown user fails the strategy.
func (r *Resolver) resolveUser(ctx context.Context, userID string) (*directory.Employee, error) {
	if userID == "" {
		return nil, fmt.Errorf("no user id to resolve")
	}

	emp, err := r.dir.GetByID(ctx, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("user %s not found in directory", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %s: %w", userID, err)
	}
	if !emp.Active() {
		return nil, fmt.Errorf("user %s is not active (status %s)", userID, emp.Status)
	}

	return emp, nil
}

// resolveManager resolves the trigger user's declared reporting-to reference
func (r *Resolver) resolveManager(ctx context.Context, actx Context) (*directory.Employee, error) {
	if actx.TriggerUserID == "" {
		return nil, fmt.Errorf("no trigger user to resolve a manager from")
	}

	trigger, err := r.dir.GetByID(ctx, actx.TriggerUserID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("trigger user %s not found in directory", actx.TriggerUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve trigger user %s: %w", actx.TriggerUserID, err)
	}
	if trigger.ReportsTo == nil || *trigger.ReportsTo == "" {
		return nil, fmt.Errorf("user %s has no declared manager", actx.TriggerUserID)
	}

	return r.resolveUser(ctx, *trigger.ReportsTo)
}

// resolveDynamic reads an assignee identifier out of a field path in the
// entity/event payload and resolves it as a user.
func (r *Resolver) resolveDynamic(ctx context.Context, fieldPath string, actx Context) (*directory.Employee, error) {
	if fieldPath == "" {
		return nil, fmt.Errorf("dynamic assignment rule has no field path")
	}

	value, found := rules.ResolvePath(actx.Entity, fieldPath)
	if !found {
		return nil, fmt.Errorf("field %q not present in entity payload", fieldPath)
	}
	userID, ok := value.(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("field %q does not hold an assignee id", fieldPath)
	}

	return r.resolveUser(ctx, userID)
}
