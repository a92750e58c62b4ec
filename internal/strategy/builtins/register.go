package builtins

import "polyagents/internal/strategy"

// RegisterAll adds every built-in planner to r.
func RegisterAll(r *strategy.Registry) {
	r.Register(NewRules())
	r.Register(NewFixed())
}
