package health

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// MultiChecker is healthy only if all of its checkers are healthy. Checkers may be added while
// the process is serving health requests.
type MultiChecker struct {
	mutex    sync.RWMutex
	checkers []Checker
}

func NewMultiChecker(checkers ...Checker) *MultiChecker {
	return &MultiChecker{checkers: checkers}
}

func (mc *MultiChecker) Add(checker Checker) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.checkers = append(mc.checkers, checker)
}

func (mc *MultiChecker) Check() error {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	var result *multierror.Error
	for _, checker := range mc.checkers {
		if err := checker.Check(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
