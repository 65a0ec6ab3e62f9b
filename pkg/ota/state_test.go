package ota

import (
	"strings"
	"testing"

	"gotest.tools/assert"
)

func TestStateStringsCoverMachine(t *testing.T) {
	for s := State(0); s < numStates; s++ {
		str := StateString(s)
		assert.Check(t, str != "")
		assert.Check(t, !strings.HasPrefix(str, "unknown-state"))
	}
}

func TestStateStringUnknown(t *testing.T) {
	assert.Check(t, StateString(State(1000)) == "unknown-state(1000)")
	assert.Check(t, StateString(State(-3)) == "unknown-state(-3)")
}

func TestResultZeroValueContinues(t *testing.T) {
	var r Result
	assert.Check(t, r == ResultContinue)
}

func TestErrorStringUnknown(t *testing.T) {
	assert.Check(t, ErrorString(ErrVerify) == "image verification failed")
	assert.Check(t, strings.HasPrefix(ErrorString(AgentError(77)), "unknown-error"))
}
