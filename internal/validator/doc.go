// Package validator implements credential and profile validation for the
// authority: email shape and deliverability, password policy and strength
// scoring, personal-name, company and phone formats, and token syntax.
//
// Every exported check either returns a normalized value or a typed error.
// Multi-field checks ([Validator.Registration], [Validator.Login]) collect all
// failures into a [FieldErrors] map so callers can report them together.
//
// # Architecture boundaries
//
// Pure functions over strings plus an optional DNS [Resolver]. The package
// never touches the record store and never decides whether an account exists.
//
// # What this package must NOT do
//
//   - Import the root authority package or any sibling internal package.
//   - Echo submitted passwords in error messages.
package validator
