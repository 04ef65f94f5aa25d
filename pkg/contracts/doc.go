// Package contracts holds the shared data model of the claim-verification
// pipeline: policy manifests, sessions, claims, runs, verdicts, and webhook
// subscriptions. Types here are wire- and storage-facing; behavior lives in
// the packages that consume them.
package contracts
