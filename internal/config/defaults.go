package config

const (
	defaultConfigPath           = "~/.config/autoqc/config.toml"
	defaultDataDir              = "~/.local/share/autoqc"
	defaultStagingDir           = "~/.local/share/autoqc/staging"
	defaultLogDir               = "~/.local/share/autoqc/logs"
	defaultResultsDir           = "~/.local/share/autoqc/results"
	defaultStoreDriver          = "sqlite"
	defaultQuiescenceSeconds    = 180
	defaultTransientRetries     = 3
	defaultToolTimeoutSeconds   = 30
	defaultPollIntervalMillis   = 1000
	defaultConversionRetries    = 3
	defaultRetryCooldownSeconds = 180
	defaultPositiveMarker       = "Pos"
	defaultNegativeMarker       = "Neg"
	defaultConverterBinary      = "msconvert"
	defaultExtractorBinary      = "MsdialConsoleApp"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 60
	defaultNotifyTimeout        = 10
)

var (
	defaultExtensions      = []string{".raw", ".d", ".wiff", ".mzml"}
	defaultExcludePatterns = []string{"wash", "shutdown", "blank"}
	defaultConverterArgs   = []string{"{input}", "--mzML", "-o", "{output_dir}", "--outfile", "{sample}.mzML"}
	defaultExtractorArgs   = []string{"lcmsdda", "-i", "{input_dir}", "-o", "{output_dir}", "-m", "{parameters}", "-p"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			ResultsDir: defaultResultsDir,
		},
		Store: Store{
			Driver: defaultStoreDriver,
		},
		Watcher: Watcher{
			QuiescenceSeconds: defaultQuiescenceSeconds,
			Extensions:        append([]string(nil), defaultExtensions...),
			TransientRetries:  defaultTransientRetries,
		},
		Pipeline: Pipeline{
			Converter: Tool{
				Binary:         defaultConverterBinary,
				Args:           append([]string(nil), defaultConverterArgs...),
				TimeoutSeconds: defaultToolTimeoutSeconds,
			},
			Extractor: Tool{
				Binary:         defaultExtractorBinary,
				Args:           append([]string(nil), defaultExtractorArgs...),
				TimeoutSeconds: defaultToolTimeoutSeconds,
			},
			PollIntervalMillis:   defaultPollIntervalMillis,
			ConversionRetries:    defaultConversionRetries,
			RetryCooldownSeconds: defaultRetryCooldownSeconds,
		},
		Sequence: Sequence{
			PositiveMarker:  defaultPositiveMarker,
			NegativeMarker:  defaultNegativeMarker,
			ExcludePatterns: append([]string(nil), defaultExcludePatterns...),
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Warnings:       true,
			Failures:       true,
			RunComplete:    true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
