// Package policy gates plans through Open Policy Agent. Builtin Rego rules
// block destructive actions on protected resources and enforce naming
// conventions; site operators can layer their own .rego files on top. The
// Engine plugs into the convergence driver as its admission gate.
package policy
