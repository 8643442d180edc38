// Package webhooks drives inbound provider deliveries through
// signature verification, a claim-based delivery ledger, and the
// billing reconciler, mapping outcomes to the status codes the
// provider's retry machinery expects.
package webhooks
