package config

import (
	"math"
	"time"
)

// Default per-device settings.
const (
	DefaultIntegrationTime uint32  = 100_000 // µs
	DefaultScansToAverage          = 1
	DefaultBoxcarWidth             = 0
	DefaultFileExtension           = ".txt"
	DefaultFilePrefix              = "spectrum"
	DefaultMaxAcquisitions         = 0
	DefaultSaveInterval            = 1000 // ms
	DefaultScopeInterval   float64 = 1.0  // s
	DefaultSaveFormat              = "ascii"
	DefaultSavePrecision           = 6
)

// Upper bounds of per-device settings.
const (
	MaxScansToAverage       = 100_000
	MaxSaveInterval   int64 = math.MaxInt64 / int64(time.Millisecond) // ms
)

// DeviceSettings is the fully materialized settings of one device.
type DeviceSettings struct {
	IntegrationTime        uint32 // µs
	ScansToAverage         int
	BoxcarWidth            int
	ElectricDarkCorrection bool
	FileExtension          string
	FilePrefix             string
	MultiFile              bool
	MaxAcquisitions        int
	SaveInterval           int // ms
	ScopeMode              bool
	ScopeInterval          float64 // s
	SaveFormat             string
	SavePrecision          int
	SaveDirectory          string
}

// DefaultDeviceSettings returns the built-in device defaults.
func DefaultDeviceSettings() DeviceSettings {
	return DeviceSettings{
		IntegrationTime: DefaultIntegrationTime,
		ScansToAverage:  DefaultScansToAverage,
		BoxcarWidth:     DefaultBoxcarWidth,
		FileExtension:   DefaultFileExtension,
		FilePrefix:      DefaultFilePrefix,
		MaxAcquisitions: DefaultMaxAcquisitions,
		SaveInterval:    DefaultSaveInterval,
		ScopeInterval:   DefaultScopeInterval,
		SaveFormat:      DefaultSaveFormat,
		SavePrecision:   DefaultSavePrecision,
	}
}

// deviceSection is a device section as stored in the file. A nil field is a missing key.
type deviceSection struct {
	IntegrationTime        *uint32  `yaml:"integration_time,omitempty"`
	ScansToAverage         *int     `yaml:"scans_to_average,omitempty"`
	BoxcarWidth            *int     `yaml:"boxcar_width,omitempty"`
	ElectricDarkCorrection *bool    `yaml:"electric_dark_correction,omitempty"`
	FileExtension          *string  `yaml:"file_extension,omitempty"`
	FilePrefix             *string  `yaml:"file_prefix,omitempty"`
	MultiFile              *bool    `yaml:"multi_file,omitempty"`
	MaxAcquisitions        *int     `yaml:"max_acquisitions,omitempty"`
	SaveInterval           *int     `yaml:"save_interval,omitempty"`
	ScopeMode              *bool    `yaml:"scope_mode,omitempty"`
	ScopeInterval          *float64 `yaml:"scope_interval,omitempty"`
	SaveFormat             *string  `yaml:"save_format,omitempty"`
	SavePrecision          *int     `yaml:"save_precision,omitempty"`
	SaveDirectory          *string  `yaml:"save_directory,omitempty"`
}

// fillDefaults sets every missing key to its default and reports whether any was missing.
func (s *deviceSection) fillDefaults() bool {
	d := DefaultDeviceSettings()

	filled := fill(&s.IntegrationTime, d.IntegrationTime)
	filled = fill(&s.ScansToAverage, d.ScansToAverage) || filled
	filled = fill(&s.BoxcarWidth, d.BoxcarWidth) || filled
	filled = fill(&s.ElectricDarkCorrection, d.ElectricDarkCorrection) || filled
	filled = fill(&s.FileExtension, d.FileExtension) || filled
	filled = fill(&s.FilePrefix, d.FilePrefix) || filled
	filled = fill(&s.MultiFile, d.MultiFile) || filled
	filled = fill(&s.MaxAcquisitions, d.MaxAcquisitions) || filled
	filled = fill(&s.SaveInterval, d.SaveInterval) || filled
	filled = fill(&s.ScopeMode, d.ScopeMode) || filled
	filled = fill(&s.ScopeInterval, d.ScopeInterval) || filled
	filled = fill(&s.SaveFormat, d.SaveFormat) || filled
	filled = fill(&s.SavePrecision, d.SavePrecision) || filled
	filled = fill(&s.SaveDirectory, d.SaveDirectory) || filled

	return filled
}

// sanitize resets out-of-range values to their defaults and reports whether any was
// reset. It must only be called after fillDefaults.
func (s *deviceSection) sanitize() bool {
	reset := false
	if n := *s.ScansToAverage; n < 1 || n > MaxScansToAverage {
		*s.ScansToAverage = DefaultScansToAverage
		reset = true
	}
	if ms := *s.SaveInterval; ms <= 0 || int64(ms) > MaxSaveInterval {
		*s.SaveInterval = DefaultSaveInterval
		reset = true
	}

	return reset
}

// settings must only be called after fillDefaults.
func (s *deviceSection) settings() DeviceSettings {
	return DeviceSettings{
		IntegrationTime:        *s.IntegrationTime,
		ScansToAverage:         *s.ScansToAverage,
		BoxcarWidth:            *s.BoxcarWidth,
		ElectricDarkCorrection: *s.ElectricDarkCorrection,
		FileExtension:          *s.FileExtension,
		FilePrefix:             *s.FilePrefix,
		MultiFile:              *s.MultiFile,
		MaxAcquisitions:        *s.MaxAcquisitions,
		SaveInterval:           *s.SaveInterval,
		ScopeMode:              *s.ScopeMode,
		ScopeInterval:          *s.ScopeInterval,
		SaveFormat:             *s.SaveFormat,
		SavePrecision:          *s.SavePrecision,
		SaveDirectory:          *s.SaveDirectory,
	}
}

func (s *deviceSection) assign(v DeviceSettings) {
	*s.IntegrationTime = v.IntegrationTime
	*s.ScansToAverage = v.ScansToAverage
	*s.BoxcarWidth = v.BoxcarWidth
	*s.ElectricDarkCorrection = v.ElectricDarkCorrection
	*s.FileExtension = v.FileExtension
	*s.FilePrefix = v.FilePrefix
	*s.MultiFile = v.MultiFile
	*s.MaxAcquisitions = v.MaxAcquisitions
	*s.SaveInterval = v.SaveInterval
	*s.ScopeMode = v.ScopeMode
	*s.ScopeInterval = v.ScopeInterval
	*s.SaveFormat = v.SaveFormat
	*s.SavePrecision = v.SavePrecision
	*s.SaveDirectory = v.SaveDirectory
}

func fill[T any](p **T, def T) bool {
	if *p != nil {
		return false
	}
	v := def
	*p = &v

	return true
}
