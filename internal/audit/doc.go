// Package audit tracks workspace activity and classifies the workspace as
// active or idle ("auditing").
//
// The Detector persists the last activity time through its StateStore so a
// restarted daemon resumes the same classification. A periodic check moves the
// detector into auditing once the idle timeout elapses, unless an external
// actor has engaged the manual override in audit.state. Recorded activity
// always returns it to active. Each transition is announced once on the
// Events channel.
package audit
