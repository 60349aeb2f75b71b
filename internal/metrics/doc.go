/*
Package metrics provides Prometheus metrics for the caching pipeline and
the context optimizer.

# Overview

The package registers its metrics through promauto under a configurable
namespace, so callers never manage a Registry by hand. A nil *Collector is
a valid no-op collector: every recording method checks the receiver, which
lets the rest of the module thread one optional pointer through without
guarding each call site.

# Metrics

  - Cache: hit and miss counters (hits labeled by tier), lookup latency
    histogram labeled by outcome, tokens served from cache, evictions by
    tier, and backend failures by operation.
  - Context optimization: tokens trimmed per component, budget passes that
    ended above target, and optimization pass duration.
*/
package metrics
