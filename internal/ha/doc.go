// Package ha runs disaster recovery plans for tenants of the recovery engine.
//
// # Overview
//
// A Plan is an ordered list of typed steps with RTO and RPO targets:
//   - backup steps run a tenant backup job to completion
//   - restore steps restore a job's newest completed backup
//   - failover steps move the tenant to a secondary site
//   - notification steps raise an alert
//   - verification steps check backup freshness against the RPO
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                      Executor                           │
//	│  (plans, activations, tests, failover/failback, status) │
//	├──────────────────┬──────────────────┬───────────────────┤
//	│   SiteManager    │  AlertNotifier   │  BackupVerifier   │
//	│ (failover steps) │ (notifications)  │ (verification)    │
//	├──────────────────┴──────────────────┴───────────────────┤
//	│        tenant.Registry (BackupRunner, Restorer,         │
//	│          BackupInspector, HealthSource)                 │
//	├─────────────────────────────────────────────────────────┤
//	│                  RecoveryTracker                        │
//	│          (RTO/RPO compliance per recovery)              │
//	└─────────────────────────────────────────────────────────┘
//
// # Activation
//
// Steps run strictly in ascending order; a step starts only after the
// previous step's record is terminal. A failing required step fails the
// activation with that step's error and marks the remaining steps skipped.
// A failing optional step is recorded and the run continues. Only one
// activation of a plan may be in progress at a time.
//
//	exec := ha.NewExecutor(ha.Options{
//		Store:     store,
//		Backups:   registry,
//		Restores:  registry,
//		Inspector: registry,
//		Health:    registry,
//		Sites:     sites,
//		Alerts:    alerts,
//	})
//
//	act, err := exec.Activate(ctx, planID, ha.ActivationRequest{
//		Reason:      "primary datacenter offline",
//		InitiatedBy: "oncall",
//	})
//
// # Readiness
//
// Status folds plan coverage, test recency, the latest activation outcome
// and the tenant's backup health through health.Fold, the same scorer the
// tenant coordinator uses for backup health.
package ha
