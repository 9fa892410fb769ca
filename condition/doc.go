// Package condition implements the closed expression language used to gate
// transitions between workflow steps.
//
// Expressions are parsed once into a small syntax tree and then evaluated
// against a key lookup. The grammar is deliberately narrow:
//
//	expr    := and ( ("||" | "or") and )*
//	and     := unary ( ("&&" | "and") unary )*
//	unary   := ("!" | "not") unary | cmp
//	cmp     := value ( ("==" | "!=") value )?
//	value   := ref | literal | "(" expr ")" | value "." method "()"
//	ref     := ident | "str(" value ")"
//	method  := "lower" | "upper" | "strip"
//	literal := 'single' | "double" | number | true | false | none
//
// Both sides of a comparison are compared as strings. A bare value is
// interpreted by its truthiness (see Truthy).
package condition
