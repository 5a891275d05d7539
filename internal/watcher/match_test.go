package watcher

import "testing"

func TestMatcher(t *testing.T) {
	m := newMatcher(
		[]string{"**/*.ts", "**/*.tsx"},
		[]string{"node_modules", "dist", "build/**", "**/*.gen.ts"},
	)

	tests := []struct {
		rel  string
		want bool
	}{
		{"index.ts", true},
		{"src/app/view.tsx", true},
		{"src/app/view.js", false},
		{"node_modules/pkg/index.ts", false},
		{"packages/a/node_modules/x.ts", false},
		{"dist/out.ts", false},
		{"build/deep/file.ts", false},
		{"src/schema.gen.ts", false},
		{".hidden/file.ts", false},
		{"src/.secret.ts", false},
		{"distant/file.ts", true},
	}
	for _, tt := range tests {
		if got := m.matchFile(tt.rel); got != tt.want {
			t.Errorf("matchFile(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestIgnoredDir(t *testing.T) {
	m := newMatcher([]string{"**/*.ts"}, []string{"node_modules", "build/**"})
	cases := map[string]bool{
		".":                false,
		"src":              false,
		".git":             true,
		"node_modules":     true,
		"src/node_modules": true,
		"build":            true,
		"build/sub":        true,
		".dreamstate":      true,
	}
	for rel, want := range cases {
		if got := m.ignoredDir(rel); got != want {
			t.Errorf("ignoredDir(%q) = %v, want %v", rel, got, want)
		}
	}
}

func TestMergeKind(t *testing.T) {
	if got := mergeKind(kindRemoved, kindAdded); got != kindChanged {
		t.Fatalf("remove then create should be a change, got %v", got)
	}
	if got := mergeKind(kindAdded, kindChanged); got != kindAdded {
		t.Fatalf("write after create should stay an add, got %v", got)
	}
	if got := mergeKind(kindChanged, kindRemoved); got != kindRemoved {
		t.Fatalf("remove after write should be a remove, got %v", got)
	}
}
