// Copyright (c) GatewayFlow Authors.
// Licensed under the MIT License.

/*
Package pipeline implements the gateway's per-channel request DAG: a
declarative, ordered list of named Steps driven by a shared Context.

# Overview

A client request arrives tagged with a Channel (external vs internal) and a
Capability (chat, embedding, image, speech, transcribe, video). Resolve
looks up the static Template for (Channel, Capability); Orchestrator
topologically sorts the template's steps by their declared DependsOn edges
and executes them one at a time against a single Context.

# Core types

  - Context    — the per-request mutable state bag shared by every step
  - Step       — named unit with DependsOn, Execute and OnFailure
  - Registry   — name → StepFactory lookup, no step ever named inline
  - Template   — static (Channel, Capability) → ordered step list
  - Orchestrator — topological execution with retry/abort/skip handling

# Execution model

Steps run strictly sequentially within one request: no step starts before
every step in its DependsOn closure has reached StatusSuccess, and no two
steps mutate the Context concurrently. Once a step marks the Context failed,
later steps may still run (e.g. audit_log is a tail step that always runs)
but must not mutate Response.
*/
package pipeline
