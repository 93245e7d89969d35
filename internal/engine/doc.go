// Package engine implements the synchronization engine: the rule registry,
// when matching, where execution and the dispatcher that runs cascades.
//
// A cascade starts when a caller invokes a concept operation. The
// dispatcher executes it, records a completed action, looks up the rules
// whose when clauses listen for that operation and evaluates each one:
//
//  1. join the completed record into the triggering clause,
//  2. join every other when clause against the records already completed
//     in the same flow, so clauses correlate through shared variables,
//  3. run the where clause over the resulting frame set,
//  4. instantiate the then templates once per surviving frame.
//
// The then invocations go onto an explicit work stack and are executed as
// new completions, depth first, in rule registration order, then frame
// order, then then-declaration order.
//
// Determinism:
// Rules hold no state and the registry never changes after Register. Every
// record and firing is stamped from a logical Clock and identified by a
// content hash, and the firing guard is keyed by rule name and matched
// record ids. Replaying a flow therefore yields the same firings.
//
// Termination:
// A rule fires at most once per set of matched records in a flow. Rules
// whose then re-triggers their own when are a configuration hazard the
// engine does not try to detect at run time; the per-flow step quota
// (DefaultMaxSteps) stops them with StepsExceededError.
package engine
