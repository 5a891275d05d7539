// Package watcher turns workspace file edits into file-change tasks.
//
// It watches the workspace recursively with fsnotify, filters paths with
// doublestar include and ignore globs (dot-directories and dotfiles are always
// skipped), and waits for a quiet stabilization window before reporting a file
// so a burst of writes becomes one task. The initial directory walk only
// registers watches and never reports anything.
package watcher
