// Package testutil provides shared test utilities for prefill.
//
// The timeout helpers create contexts that respect the test binary's
// deadline so hanging network tests fail inside the test instead of
// being killed by the harness. The fixtures build representative
// protocol payloads so tests across packages agree on what a typical
// job looks like.
package testutil
