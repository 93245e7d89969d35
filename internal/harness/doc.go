// Package harness runs conformance scenarios against a rules package.
//
// A scenario compiles a rules directory, replaces every declared concept
// except Requesting with canned stubs, drives the dispatcher with a list
// of external calls and then checks the responses and the trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: register_then_login
//	description: "A registered user can log in"
//	rules: ../rules
//	stubs:
//	  Authentication:
//	    register:
//	      - when: { username: alice }
//	        output: { user: u1 }
//	  Sessioning:
//	    _getUser:
//	      - when: { session: s1 }
//	        rows: [{ user: u1 }]
//	flow:
//	  - request: { path: /Authentication/register, username: alice, password: pw }
//	    expect: { user: u1 }
//	  - invoke: Authentication.register
//	    input: { username: bob, password: pw }
//	assertions:
//	  - type: trace_contains
//	    action: Authentication.register
//	    args: { username: alice }
//	  - type: rule_fired
//	    rule: RegisterResponse
//	    count: 1
//
// # Assertion Types
//
//   - trace_contains: an action appears with matching args and output
//   - trace_absent: no action matches
//   - trace_order: actions appear in the given relative order
//   - trace_count: an action appears exactly N times
//   - rule_fired: a rule fired N times, or at least once when count is 0
//
// # Deterministic Testing
//
// Flow tokens and request ids come from sequence generators (flow-1,
// flow-2 and r1, r2 by default) and seqs from a fresh logical clock, so
// the same scenario always produces the same trace. RunWithGolden compares
// it with testdata/golden/<name>.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("scenarios/register.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
