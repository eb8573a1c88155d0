// Package policy holds authorization requirements that sit on top of the
// credential core: two-factor, API key scope and account-active checks.
//
// Requirements are plain values; [Check] and [Evaluator.Evaluate] are pure
// functions over a [Subject], so they can run anywhere the subject is known.
package policy
