// Package qc classifies a reconciled sample as Pass, Warning or Fail.
//
// Four independently toggleable criteria are evaluated: intensity dropouts,
// library RT shift, in-run RT shift and library m/z shift. Any Fail makes
// the sample Fail; otherwise any Warning makes it Warning. The in-run
// criterion only applies once earlier samples of the same run and polarity
// have contributed an average for at least one compound.
package qc
