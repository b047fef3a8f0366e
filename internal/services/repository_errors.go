package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/naturalily/shop-api/internal/repositories"
)

type repoErrorMapping struct {
	notFound    error
	conflict    error
	unavailable error
}

// translate maps a repository failure onto the service's sentinels, keeping the cause in the
// message. Unclassified failures are treated as unavailable.
func (m repoErrorMapping) translate(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && m.notFound != nil:
			return fmt.Errorf("%w: %v", m.notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", m.conflict, err)
		}
	}
	return fmt.Errorf("%w: %v", m.unavailable, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

// matchSentinel returns the first of sentinels found in err's chain, or nil.
func matchSentinel(err error, sentinels ...error) error {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func noopLogger(context.Context, string, map[string]any) {}
