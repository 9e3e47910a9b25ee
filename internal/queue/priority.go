package queue

import "github.com/goodwiins/Myagent-sub003/internal/models"

// Priority buckets, 1 is most urgent.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityMedium   = 3
	PriorityLow      = 4

	// DefaultPriority applies to types missing from the table.
	DefaultPriority = PriorityHigh
)

var priorities = map[string]int{
	"critical_security": PriorityCritical,
	"security":          PriorityCritical,
	"critical":          PriorityCritical,
	"vulnerability":     PriorityCritical,
	"data_loss":         PriorityCritical,

	"bug":            PriorityHigh,
	"correctness":    PriorityHigh,
	"error_handling": PriorityHigh,
	"concurrency":    PriorityHigh,
	"race_condition": PriorityHigh,

	"performance":     PriorityMedium,
	"maintainability": PriorityMedium,
	"refactor":        PriorityMedium,
	"code_quality":    PriorityMedium,
	"testing":         PriorityMedium,
	"complexity":      PriorityMedium,

	"documentation": PriorityLow,
	"style":         PriorityLow,
	"naming":        PriorityLow,
	"formatting":    PriorityLow,
	"typo":          PriorityLow,
}

// PriorityFor maps a finding type to its bucket.
func PriorityFor(typ string) int {
	if p, ok := priorities[models.NormalizeType(typ)]; ok {
		return p
	}
	return DefaultPriority
}
