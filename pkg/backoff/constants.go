// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package backoff

// TemporaryBackoffError is embedded in error messages that represent a
// condition worth retrying (a transient error still within its retry
// budget).
const TemporaryBackoffError = "temporary backoff"

// PermanentFailureError is embedded in error messages that represent a
// condition which has exhausted its retry budget or was never
// retryable in the first place.
const PermanentFailureError = "permanent failure"
