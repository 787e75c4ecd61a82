// Package services defines shared utilities consumed by the resolution
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, circuit names, and pipeline steps for
//     logging and the decision journal.
//   - Structured error markers plus the Wrap helper so backend failures keep a
//     consistent classification (retryable vs review vs degraded).
//
// Use these helpers when wiring new clients so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
