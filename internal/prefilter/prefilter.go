// Package prefilter decides whether a conversation thread is worth an LLM
// call before it ever reaches the pace controller, trading a handful of
// cheap arithmetic checks against PreFilterMinMessages/PreFilterMinTotalChars
// for the cost of a model round trip.
package prefilter

import "fmt"

// Result is the outcome of evaluating a thread.
type Result struct {
	Interesting bool
	Reason      string
}

// Evaluate reports whether a thread with the given message count and total
// character count passes the minimum-activity bar. Reason is "ok" when it
// passes, otherwise an encoded "<check>_<n>_lt_<min>" string naming the
// failing check.
func Evaluate(messageCount, totalChars, minMessages, minTotalChars int) Result {
	if messageCount < minMessages {
		return Result{Interesting: false, Reason: fmt.Sprintf("message_count_%d_lt_%d", messageCount, minMessages)}
	}
	if totalChars < minTotalChars {
		return Result{Interesting: false, Reason: fmt.Sprintf("total_chars_%d_lt_%d", totalChars, minTotalChars)}
	}
	return Result{Interesting: true, Reason: "ok"}
}
