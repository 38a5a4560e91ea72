package service

import "github.com/organ-match-server/internal/domain"

// Services bundles the operations exposed to the HTTP, MCP and CLI front ends. All members
// share one set of dependencies.
type Services struct {
	Lifecycle *MatchLifecycleOrchestrator
	Clinical  *ClinicalEventOrchestrator
	Priority  *PriorityService
	AutoMatch *AutoMatchRunner
	Registry  *Registry
}

// NewServices creates every service over deps.
func NewServices(deps Dependencies, workers int) *Services {
	return &Services{
		Lifecycle: NewMatchLifecycleOrchestrator(deps),
		Clinical:  NewClinicalEventOrchestrator(deps),
		Priority:  NewPriorityService(deps),
		AutoMatch: NewAutoMatchRunner(deps, workers),
		Registry:  NewRegistry(deps),
	}
}

// Store returns the record store the services share.
func (s *Services) Store() domain.RecordStore {
	return s.Registry.deps.Store
}
