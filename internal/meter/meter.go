// Package meter turns analyser snapshots into display values
package meter

// Tap is the read side of an analysis node
type Tap interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
	FloatTimeDomainData(dst []float32)
}

// Level reduces a byte spectrum to a percentage in [0, 100]: the mean bin
// value over 255. An empty spectrum is silent.
func Level(spectrum []byte) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	var sum int
	for _, b := range spectrum {
		sum += int(b)
	}
	return float64(sum) / float64(len(spectrum)) / 255 * 100
}

// Meter reads a tap with reusable buffers. It is not safe for concurrent use.
type Meter struct {
	tap      Tap
	spectrum []byte
	waveform []float32
}

// New creates a meter for a tap. A nil tap always reads as silent.
func New(tap Tap) *Meter {
	m := &Meter{tap: tap}
	if tap != nil {
		m.spectrum = make([]byte, tap.FrequencyBinCount())
		m.waveform = make([]float32, tap.FrequencyBinCount())
	}
	return m
}

// Level takes a fresh spectrum snapshot and reduces it
func (m *Meter) Level() float64 {
	if m.tap == nil {
		return 0
	}
	m.tap.ByteFrequencyData(m.spectrum)
	return Level(m.spectrum)
}

// Waveform returns a copy of the latest time-domain samples, or nil
func (m *Meter) Waveform() []float32 {
	if m.tap == nil {
		return nil
	}
	m.tap.FloatTimeDomainData(m.waveform)
	out := make([]float32, len(m.waveform))
	copy(out, m.waveform)
	return out
}
