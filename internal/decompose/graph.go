package decompose

import (
	"fmt"
	"sort"
	"strings"

	"fabrick/internal/queue"
)

// CyclicDependencyError reports that the implied job graph contains a cycle.
// Decomposition fails before any job is persisted, so the manifest author
// sees the problem instead of a production that never finishes.
type CyclicDependencyError struct {
	// Remaining holds the job identifiers that could not be ordered.
	Remaining []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency among jobs: %s", strings.Join(e.Remaining, ", "))
}

// validateAcyclic runs Kahn's algorithm over the job graph. Jobs are indexed
// by identifier with edges held as id references; whatever cannot be ordered
// is part of a cycle. Edges pointing at unknown jobs are rejected too since
// they could never be satisfied.
func validateAcyclic(jobs []*queue.Job) error {
	indegree := make(map[string]int, len(jobs))
	dependents := make(map[string][]string)
	known := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		known[job.ID] = struct{}{}
	}

	for _, job := range jobs {
		indegree[job.ID] = len(job.DependsOn)
		for _, dep := range job.DependsOn {
			if _, ok := known[dep]; !ok {
				return fmt.Errorf("job %s depends on unknown job %s", job.ID, dep)
			}
			dependents[dep] = append(dependents[dep], job.ID)
		}
	}

	queueIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if indegree[job.ID] == 0 {
			queueIDs = append(queueIDs, job.ID)
		}
	}

	ordered := 0
	for len(queueIDs) > 0 {
		id := queueIDs[0]
		queueIDs = queueIDs[1:]
		ordered++
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queueIDs = append(queueIDs, dependent)
			}
		}
	}

	if ordered == len(jobs) {
		return nil
	}

	var remaining []string
	for id, degree := range indegree {
		if degree > 0 {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	return &CyclicDependencyError{Remaining: remaining}
}
