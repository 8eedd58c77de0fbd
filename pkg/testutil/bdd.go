package testutil

import "testing"

// Given, When and Then name the steps of a scenario test. Each step is a
// subtest, so a failing step is reported with its sentence.
func Given(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Given", desc, fn) }

func When(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "When", desc, fn) }

func Then(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Then", desc, fn) }

func step(t *testing.T, kind, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(kind+" "+desc, fn)
}
