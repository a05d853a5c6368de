package domain

// Project holds the properties the engine needs to access spectra.
// It is a value type: Clone produces a copy that shares no memory with the original,
// which is what a request stores so the host may keep editing its own copy.
type Project struct {
	Name        string              `json:"name" toml:"name"`
	Instrument  Instrument          `json:"instrument" toml:"instrument"`
	Selection   Selection           `json:"selection" toml:"selection"`
	Display     Display             `json:"display" toml:"display"`
	Windows     []AnalysisWindow    `json:"windows" toml:"windows"`
	Calibration CalibrationSettings `json:"calibration" toml:"calibration"`
}

// Instrument describes the spectrometer and the site it is installed at.
type Instrument struct {
	Format   string `json:"format" toml:"format"`
	Site     string `json:"site" toml:"site"`
	Detector int    `json:"detector" toml:"detector"`
}

// Selection filters the records visited by the record iterators.
// Record numbers start at 1, so a zero record bound is open. SZA bounds only apply when
// FilterSZA is set, and then both are taken literally: SZAMin 0 excludes negative angles.
type Selection struct {
	RecordMin int     `json:"record_min" toml:"record_min"`
	RecordMax int     `json:"record_max" toml:"record_max"`
	FilterSZA bool    `json:"filter_sza" toml:"filter_sza"`
	SZAMin    float64 `json:"sza_min" toml:"sza_min"`
	SZAMax    float64 `json:"sza_max" toml:"sza_max"`
}

// Display selects which pages the engine produces.
type Display struct {
	Spectra    bool `json:"spectra" toml:"spectra"`
	Data       bool `json:"data" toml:"data"`
	Calibrated bool `json:"calibrated" toml:"calibrated"`
}

// AnalysisWindow is a wavelength interval analysed independently.
type AnalysisWindow struct {
	Name    string  `json:"name" toml:"name"`
	Enabled bool    `json:"enabled" toml:"enabled"`
	Min     float64 `json:"min" toml:"min"`
	Max     float64 `json:"max" toml:"max"`
}

// CalibrationSettings configures the wavelength calibration pass.
type CalibrationSettings struct {
	ReferenceFile    string  `json:"reference_file" toml:"reference_file"`
	PolynomialDegree int     `json:"polynomial_degree" toml:"polynomial_degree"`
	Min              float64 `json:"min" toml:"min"`
	Max              float64 `json:"max" toml:"max"`
}

// Clone returns a deep copy of p. A nil receiver yields nil.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	if p.Windows != nil {
		c.Windows = make([]AnalysisWindow, len(p.Windows))
		copy(c.Windows, p.Windows)
	}
	return &c
}

// Equal reports whether two projects hold the same properties.
func (p *Project) Equal(o *Project) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Name != o.Name || p.Instrument != o.Instrument || p.Selection != o.Selection ||
		p.Display != o.Display || p.Calibration != o.Calibration || len(p.Windows) != len(o.Windows) {
		return false
	}
	for i := range p.Windows {
		if p.Windows[i] != o.Windows[i] {
			return false
		}
	}
	return true
}
