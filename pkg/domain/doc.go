// Package domain defines the core types shared by the safeguards engine.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. All types in this package are:
//
// - Independent of infrastructure (no file formats, telemetry, storage, etc.)
// - Read-only from the point of view of a policy once a run has started
// - Testable in isolation without mocks
//
// Other packages (config, safeguards, policy, storage) build on these types. The
// dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// The Service snapshot combines the parsed service declaration, the compiled
// CloudFormation-shaped templates and provider accessors. Safeguard entries,
// verdicts, results and run reports describe one pass of the deployment gate.
package domain
