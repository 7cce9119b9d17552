// Package expr provides the sandboxed evaluation primitives used by safeguard
// policies: a small boolean expression language over a read-only document and
// a template-literal compiler that turns naming patterns into anchored regular
// expressions. Neither has access to anything beyond the values passed in.
package expr
