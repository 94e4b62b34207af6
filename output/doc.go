// Package output validates a task's candidate answer and produces the
// format guidance and corrective feedback the conversation loop sends to the
// model.
//
// JSON candidates are parsed once with gjson and checked field by field:
// required fields must be present, present fields must match their declared
// type, arrays are checked element by element and nested objects
// recursively. Strict tasks additionally reject undeclared fields. All
// violations are collected rather than stopping at the first.
package output
