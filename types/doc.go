// Copyright (c) GatewayFlow Authors.
// Licensed under the MIT License.

/*
Package types provides the structured error vocabulary shared across the
gateway's packages.

types is the lowest-level package: it has no internal dependencies, so
pipeline steps, the repository layer, and the composition root can all
depend on it without creating cycles.

# Core types

  - ErrorCode — a closed-ish vocabulary of error codes spanning client,
    policy, and upstream failures (INVALID_REQUEST, RATE_LIMITED,
    UPSTREAM_TIMEOUT, and so on)
  - Error — a structured error carrying a code, message, HTTP status,
    retryability, and an optional upstream provider tag

pipeline.Context.Fail and pipeline.ClassifyError consume ErrorCode
directly to decide how a step failure is reported to the caller.
*/
package types
