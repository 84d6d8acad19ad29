// Package id provides unique identifier generation for jobs.
package id

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// Generate creates a new unique job ID.
// Format: job-<ksuid>
// KSUIDs are k-sortable, so IDs order roughly by creation time.
func Generate() string {
	return fmt.Sprintf("job-%s", ksuid.New().String())
}
