// Package services provides the business logic layer of the workflow engine.
//
// This package contains:
//   - Definition management with two-pass graph building (DefinitionService)
//   - Run lifecycle: start, actions, abort, context updates (RunEngine)
//   - Automatic draining of notification, condition and auto-approval stages (AutoStageProcessor)
//   - Background escalation of stale approvals (EscalationService)
//   - Auto-start of runs for submitted tickets (TicketListener)
//   - In-process publish/subscribe (EventBus) and per-run serialization (RunLocker)
//
// Services depend only on the interfaces in domain/ports, so tests wire them
// against in-memory fakes.
package services
