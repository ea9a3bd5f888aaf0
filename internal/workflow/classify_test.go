package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		buildLog string
		class    FailureClass
		canFix   bool
	}{
		{
			name:     "typescript compiler error",
			buildLog: "src/pages/index.tsx(14,7): error TS2322: Type 'string' is not assignable to type 'number'.",
			class:    FailureTypeError,
			canFix:   true,
		},
		{
			name:     "runtime type error",
			buildLog: "TypeError: Cannot read properties of undefined (reading 'map')",
			class:    FailureTypeError,
			canFix:   true,
		},
		{
			name:     "missing dependency",
			buildLog: "Module not found: Error: Can't resolve 'left-pad' in '/app/src'",
			class:    FailureDependencyError,
			canFix:   false,
		},
		{
			name:     "npm failure",
			buildLog: "npm ERR! code ERESOLVE\nnpm ERR! ERESOLVE unable to resolve dependency tree",
			class:    FailureDependencyError,
			canFix:   false,
		},
		{
			name:     "config error",
			buildLog: "Error: missing required environment variable DATABASE_URL",
			class:    FailureConfigError,
			canFix:   false,
		},
		{
			name:     "generic build failure",
			buildLog: "Build failed with 3 errors",
			class:    FailureBuildError,
			canFix:   false,
		},
		{
			name:     "unrecognized output",
			buildLog: "something went sideways",
			class:    FailureUnknown,
			canFix:   false,
		},
		{
			name:     "empty log",
			buildLog: "",
			class:    FailureUnknown,
			canFix:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := Classify(tt.buildLog)
			assert.Equal(t, tt.class, cls.Class)
			assert.Equal(t, tt.canFix, cls.CanFix)
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// Carries both a TS error and a module-not-found line; the type-error
	// rule is checked first.
	buildLog := "src/app.ts(1,1): error TS2307: Cannot find module './missing'."
	cls := Classify(buildLog)
	assert.Equal(t, FailureTypeError, cls.Class)
	assert.True(t, cls.CanFix)
}

func TestClassify_ExtractsDistinctFilesInOrder(t *testing.T) {
	buildLog := `src/pages/index.tsx(14,7): error TS2322: Type 'string' is not assignable.
src/lib/api.ts(3,1): error TS2304: Cannot find name 'fetchJson'.
src/pages/index.tsx(20,2): error TS2554: Expected 1 arguments, but got 2.`

	cls := Classify(buildLog)
	assert.Equal(t, []string{"src/pages/index.tsx", "src/lib/api.ts"}, cls.Files)
}

func TestClassify_NoFilesForUnknown(t *testing.T) {
	cls := Classify("complete mystery")
	assert.Empty(t, cls.Files)
}
