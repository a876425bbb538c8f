// Package workflow defines the YAML pipeline format: a named workflow with a
// push trigger, workflow-level environment, and one or more jobs, each with a
// runner label, an optional build matrix and a sequence of steps.
//
// Parsing is strict (unknown keys are rejected) and separate from validation,
// so a definition can be loaded, inspected and validated in distinct phases.
package workflow
