// Package preflight provides readiness checks for the external programs and
// filesystem paths autoqc depends on.
//
// These checks run in two contexts:
//   - The monitor calls RunAll before it starts watching a run. If any
//     required check fails, the process exits instead of producing a run of
//     forced Fail verdicts.
//   - The CLI "autoqc preflight" command renders every result, including the
//     optional integrations summarized by the *FromConfig helpers.
package preflight
