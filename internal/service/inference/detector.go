package inference

import (
	"context"
	"errors"
	"fmt"
	"os"

	"deepguard/internal/models"
)

// ErrUnavailable marks a detector that could not produce scores.
var ErrUnavailable = errors.New("inference unavailable")

// Detector scores one staged media file. Implementations return raw per-model
// probabilities; the final probability is computed by an Aggregator.
type Detector interface {
	Detect(ctx context.Context, path string) (models.ScoreSet, error)
}

// StubDetector returns fixed scores for any readable file. It stands in until
// real models are wired.
type StubDetector struct {
	Scores models.ScoreSet
}

func (d StubDetector) Detect(ctx context.Context, path string) (models.ScoreSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make(models.ScoreSet, len(d.Scores))
	for k, v := range d.Scores {
		out[k] = v
	}
	return out, nil
}

// every stub reports the same two model outputs
func stubScores() models.ScoreSet {
	return models.ScoreSet{"cnn_score": 0.84, "forensics_score": 0.91}
}

func NewImageDetector() StubDetector { return StubDetector{Scores: stubScores()} }
func NewVideoDetector() StubDetector { return StubDetector{Scores: stubScores()} }
func NewAudioDetector() StubDetector { return StubDetector{Scores: stubScores()} }

// Detectors maps every scannable kind to its detector.
type Detectors map[models.MediaKind]Detector

// DefaultDetectors returns the stub detector set.
func DefaultDetectors() Detectors {
	return Detectors{
		models.MediaImage: NewImageDetector(),
		models.MediaVideo: NewVideoDetector(),
		models.MediaAudio: NewAudioDetector(),
	}
}
