// Package energy implements a pure-Go voice activity detector based on RMS
// energy of 16-bit PCM frames. It is the default VAD for deployments without
// a model-backed detector.
package energy

import (
	"context"
	"encoding/binary"
	"math"

	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/provider"
	"github.com/vocalis-ai/vocalis/types"
)

// ProviderName is the registry key for this detector.
const ProviderName = "energy"

// Register adds the energy VAD factory to the registry.
func Register(r *provider.Registry) {
	r.RegisterVAD(ProviderName, func(cfg *config.Config, logger *zap.Logger) (provider.VAD, error) {
		return New(), nil
	})
}

// VAD scores frames by normalized RMS energy. The score saturates at 1.0
// around typical conversational speech levels so the configured threshold
// behaves like a probability cutoff.
type VAD struct {
	// knee is the RMS level mapped to score 0.5.
	knee float64
}

// New returns a detector tuned for 16 kHz speech.
func New() *VAD {
	return &VAD{knee: 0.02}
}

// Score implements provider.VAD. Frames must be little-endian 16-bit PCM;
// an odd-length frame is a recognition error (and therefore treated as
// silence by the caller).
func (v *VAD) Score(_ context.Context, frame []byte) (float64, error) {
	if len(frame) < 2 || len(frame)%2 != 0 {
		return 0, types.NewError(types.ErrRecognition, "frame is not 16-bit PCM").
			WithProvider(ProviderName)
	}

	var sum float64
	n := len(frame) / 2
	for i := 0; i < len(frame); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i:]))) / 32768.0
		sum += s * s
	}
	level := math.Sqrt(sum / float64(n))

	// Squash RMS into [0,1) with the knee at 0.5.
	score := level / (level + v.knee)
	return score, nil
}

// Name implements provider.VAD.
func (v *VAD) Name() string { return ProviderName }
