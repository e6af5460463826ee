// Package billing implements the subscription and entitlement core for the
// creator platform: checkout initiation against the payment provider,
// idempotent webhook ingestion driving the subscription state machine, the
// derived entitlement cache, and a change-feed watcher exposing a
// near-real-time status view to route guards.
//
// The provider is the source of truth for subscription state. Local rows are
// only ever written by the webhook path or an explicit reconciliation read;
// everything else derives from them. Status transitions form an explicit
// table handled in Service.HandleWebhook over a tagged event union, with the
// pure Summarize function mapping status to the route-guard booleans.
package billing
