package store

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Polarity is the ionisation mode a sample was acquired in.
type Polarity string

const (
	PolarityPositive Polarity = "Pos"
	PolarityNegative Polarity = "Neg"
)

// ParsePolarity accepts the short and long spellings used in sequence files and the CLI.
func ParsePolarity(value string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "pos", "positive", "+":
		return PolarityPositive, nil
	case "neg", "negative", "-":
		return PolarityNegative, nil
	default:
		return "", fmt.Errorf("unknown polarity %q", value)
	}
}

// Label returns the long display name.
func (p Polarity) Label() string {
	switch p {
	case PolarityPositive:
		return "Positive"
	case PolarityNegative:
		return "Negative"
	default:
		return string(p)
	}
}

// Role distinguishes subject samples from biological standards.
type Role string

const (
	RoleSample             Role = "sample"
	RoleBiologicalStandard Role = "biological_standard"
)

// Label returns a title-cased display name.
func (r Role) Label() string {
	return cases.Title(language.Und).String(strings.ReplaceAll(string(r), "_", " "))
}

// Result is a QC verdict. The empty value means the sample is unprocessed.
type Result string

const (
	ResultUnprocessed Result = ""
	ResultPass        Result = "Pass"
	ResultWarning     Result = "Warning"
	ResultFail        Result = "Fail"
)

// Label returns the display name, including the unprocessed state.
func (r Result) Label() string {
	if r == ResultUnprocessed {
		return "Unprocessed"
	}
	return string(r)
}

// RunStatus tracks whether a run is still being monitored.
type RunStatus string

const (
	RunActive   RunStatus = "active"
	RunComplete RunStatus = "complete"
)

// Run is one instrument acquisition sequence.
type Run struct {
	InstrumentID    string
	RunID           string
	Method          string
	QCConfig        string
	AcquisitionPath string
	Status          RunStatus
	ForcedComplete  bool
	MonitorPID      int
	CurrentSample   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     time.Time

	Progress Progress
	// Samples holds the ordered expected-sample list when loaded through GetRun.
	Samples []Sample
}

// Progress summarises verdict counts for a run.
type Progress struct {
	Total     int
	Processed int
	Passed    int
	Warned    int
	Failed    int
}

// Remaining reports how many expected samples still lack a verdict.
func (p Progress) Remaining() int {
	return p.Total - p.Processed
}

// Sample is one expected injection within a run.
type Sample struct {
	InstrumentID       string
	RunID              string
	SampleID           string
	Position           int
	Polarity           Polarity
	Role               Role
	BiologicalStandard string
	Checksum           string
	Result             Result
	FailureReason      string
	ProcessedAt        time.Time
}

// Processed reports whether a verdict has been stored.
func (s Sample) Processed() bool {
	return s.Result != ResultUnprocessed
}

// IsBiologicalStandard reports whether the sample is a benchmarking standard.
func (s Sample) IsBiologicalStandard() bool {
	return s.Role == RoleBiologicalStandard
}

// Peak is one m/z and intensity pair of a reference spectrum.
type Peak struct {
	MZ        float64
	Intensity float64
}

// ReferenceCompound is a library analyte used as the QC yardstick.
type ReferenceCompound struct {
	Method             string
	Polarity           Polarity
	BiologicalStandard string
	Name               string
	ExpectedMZ         float64
	ExpectedRT         float64
	Spectrum           []Peak
}

// QCConfig holds the four cutoffs and their enable flags.
type QCConfig struct {
	Name             string
	DropoutCutoff    float64
	LibraryRTCutoff  float64
	InRunRTCutoff    float64
	LibraryMZCutoff  float64
	DropoutsEnabled  bool
	LibraryRTEnabled bool
	InRunRTEnabled   bool
	LibraryMZEnabled bool
}

// DefaultQCConfigName names the configuration every database carries.
const DefaultQCConfigName = "default"

// DefaultQCConfig returns the stock cutoffs with every criterion enabled.
func DefaultQCConfig() QCConfig {
	return QCConfig{
		Name:             DefaultQCConfigName,
		DropoutCutoff:    4,
		LibraryRTCutoff:  0.1,
		InRunRTCutoff:    0.05,
		LibraryMZCutoff:  0.005,
		DropoutsEnabled:  true,
		LibraryRTEnabled: true,
		InRunRTEnabled:   true,
		LibraryMZEnabled: true,
	}
}

// Feature is one reconciled extractor row for a reference compound.
type Feature struct {
	Compound   string
	ObservedMZ float64
	ObservedRT float64
	Intensity  float64
	Confirmed  bool
}

// Diagnostic carries the per-compound QC metrics and tags.
type Diagnostic struct {
	Compound       string
	DeltaMZ        float64
	DeltaRT        float64
	InRunDeltaRT   float64
	InRunAvailable bool
	Dropout        bool
	Warnings       []string
	Failures       []string
}

// Verdict is the classification outcome for one sample.
type Verdict struct {
	Result      Result
	Reason      string
	Diagnostics []Diagnostic
}

// FeatureRecord is a stored diagnostic row joined with its observation.
type FeatureRecord struct {
	SampleID   string
	Feature    Feature
	Diagnostic Diagnostic
}

// Method is a chromatography method with per-polarity extraction parameter files.
type Method struct {
	Name               string
	PositiveParameters string
	NegativeParameters string
}

// Parameters returns the parameter file for the given polarity.
func (m Method) Parameters(p Polarity) string {
	if p == PolarityNegative {
		return m.NegativeParameters
	}
	return m.PositiveParameters
}

// BiologicalStandard is a pooled reference sample type tied to a method.
type BiologicalStandard struct {
	Name               string
	Method             string
	Identifier         string
	PositiveParameters string
	NegativeParameters string
}

// Parameters returns the parameter file for the given polarity.
func (b BiologicalStandard) Parameters(p Polarity) string {
	if p == PolarityNegative {
		return b.NegativeParameters
	}
	return b.PositiveParameters
}
