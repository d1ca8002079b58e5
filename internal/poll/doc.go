// Package poll runs recurring jobs ("polls") on a shared worker pool.
//
// Each poll pairs a respondent, which produces a value, with a callback, which
// consumes it. A Manager owns the registry of polls and runs one scheduling
// loop per enabled poll:
//
//	produce -> deliver -> sleep(interval) -> re-check enabled -> ...
//
// Respondents and callbacks always run without the registry lock held, so
// they may call back into the Manager (add, remove, stop) freely. Disabling or
// removing a poll never preempts user code; it prevents the next iteration.
package poll
