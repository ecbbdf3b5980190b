package metrics

import (
	"sync/atomic"
	"time"
)

// indexBuiltAt backs the catalog_index_age_seconds gauge. A pointer store
// keeps the gauge callback lock-free.
var indexBuiltAt atomic.Pointer[time.Time]
