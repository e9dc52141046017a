package controllers

import (
	"context"
	"sync"
	"time"

	"github.com/aviary-app/entitlement-service/app/repository"
	"github.com/aviary-app/entitlement-service/internal/pkg/claims"
	"github.com/aviary-app/entitlement-service/internal/pkg/entitlement"
	"github.com/aviary-app/entitlement-service/internal/pkg/receipt"
)

var (
	entitlementSvc     *entitlement.Service
	entitlementSvcOnce sync.Once
)

// getEntitlementService lazily wires the entitlement service from the global
// repositories, the store-facing validation clients and the claims mirror.
func getEntitlementService() *entitlement.Service {
	entitlementSvcOnce.Do(func() {
		if entitlementSvc != nil {
			return
		}
		repos := repository.GetGlobalRepositories()
		entitlementSvc = entitlement.NewService(
			repos.User,
			repos.Entitlement,
			receipt.NewAppleClientFromEnv(),
			receipt.NewGoogleClientFromEnv(context.Background()),
			claims.NewRedisPropagator(),
		)
	})
	return entitlementSvc
}

// SetEntitlementService overrides the wired service, used by tests.
func SetEntitlementService(svc *entitlement.Service) {
	entitlementSvcOnce.Do(func() {})
	entitlementSvc = svc
}

// requestContext bounds handler work against slow external calls.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 20*time.Second)
}

// formatTimePtr renders an optional timestamp as RFC3339 UTC, or nil.
func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
