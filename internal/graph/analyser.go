package graph

import (
	"math"
	"sync"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analysis parameters. They are fixed: heavier smoothing trades meter attack
// speed for a steadier display.
const (
	FFTSize               = 256
	SmoothingTimeConstant = 0.8
	MinDecibels           = -100.0
	MaxDecibels           = -30.0
)

// Analyser taps a signal and exposes frequency- and time-domain snapshots of
// its most recent FFTSize samples without altering it.
type Analyser struct {
	mu        sync.Mutex
	fftSize   int
	smoothing float64

	ring     []float64
	pos      int
	window   []float64
	fft      *fourier.FFT
	coeffs   []complex128
	scratch  []float64
	smoothed []float64

	disconnected bool
}

// NewAnalyser creates an analyser with the fixed analysis parameters
func NewAnalyser() *Analyser {
	return newAnalyser(FFTSize, SmoothingTimeConstant)
}

func newAnalyser(fftSize int, smoothing float64) *Analyser {
	ones := make([]float64, fftSize)
	for i := range ones {
		ones[i] = 1
	}
	return &Analyser{
		fftSize:   fftSize,
		smoothing: smoothing,
		ring:      make([]float64, fftSize),
		window:    window.Blackman(ones),
		fft:       fourier.NewFFT(fftSize),
		scratch:   make([]float64, fftSize),
		smoothed:  make([]float64, fftSize/2),
	}
}

// FFTSize returns the analysis window length in samples
func (a *Analyser) FFTSize() int {
	return a.fftSize
}

// FrequencyBinCount returns the number of frequency bins, half the FFT size
func (a *Analyser) FrequencyBinCount() int {
	return a.fftSize / 2
}

// Write feeds a block of audio into the analysis window
func (a *Analyser) Write(f audio.Frame) {
	mono := f.Mono()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disconnected {
		return
	}
	for _, s := range mono {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// ByteFrequencyData fills dst with the current magnitude spectrum mapped
// from [MinDecibels, MaxDecibels] onto 0..255. Each call advances the
// smoothing state.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.fftSize; i++ {
		a.scratch[i] = a.ring[(a.pos+i)%a.fftSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	bins := a.fftSize / 2
	scale := 255.0 / (MaxDecibels - MinDecibels)
	for k := 0; k < bins; k++ {
		mag := cmplxAbs(a.coeffs[k]) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= len(dst) {
			continue
		}

		db := MinDecibels
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := scale * (db - MinDecibels)
		switch {
		case v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
}

// FloatTimeDomainData fills dst with the most recent samples, oldest first
func (a *Analyser) FloatTimeDomainData(dst []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(dst)
	if n > a.fftSize {
		n = a.fftSize
	}
	start := a.pos + a.fftSize - n
	for i := 0; i < n; i++ {
		dst[i] = float32(a.ring[(start+i)%a.fftSize])
	}
}

func (a *Analyser) disconnect() {
	a.mu.Lock()
	a.disconnected = true
	a.mu.Unlock()
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
