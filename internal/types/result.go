package types

// TestResult is the outcome of the last accepted test of a provider.
type TestResult string

const (
	ResultUnknown TestResult = "unknown"
	ResultSuccess TestResult = "success"
	ResultFailure TestResult = "failure"
)

// Passed reports whether the result counts as healthy. Anything that is not
// an explicit success is a candidate for a retest.
func (r TestResult) Passed() bool {
	return r == ResultSuccess
}

func ParseTestResult(s string) (TestResult, bool) {
	switch TestResult(s) {
	case ResultUnknown, ResultSuccess, ResultFailure:
		return TestResult(s), true
	case "":
		return ResultUnknown, true
	default:
		return "", false
	}
}
