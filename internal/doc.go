// Package internal documents the funnel service internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, error envelope and routing
// - domain: subscriber service, form validation and segment rules
// - storage: the PostgreSQL subscriber mirror and migrations
// - jobs: River background workers and queues
// - mailchimp, webhook, telegram, email: outbound integrations
// - audit, config, metrics, telemetry, sanitize, validation: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
