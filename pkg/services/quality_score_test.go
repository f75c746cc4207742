package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreResponse(t *testing.T) {
	w := DefaultQualityWeights()
	long := strings.Repeat("а", 201)

	tests := []struct {
		name string
		in   ScoreInput
		want int
	}{
		{
			name: "chat with medium confidence",
			in:   ScoreInput{Response: "Привет! Чем помочь?", Confidence: 0.75},
			want: 6,
		},
		{
			name: "internal data cited",
			in: ScoreInput{
				Response:     "По данным базы, в мае продано на 1,2 млн ₽.",
				Confidence:   0.6,
				DataRoute:    true,
				InternalRows: 1,
			},
			want: 5 + 3 + 1,
		},
		{
			name: "hybrid with everything",
			in: ScoreInput{
				Response:        "По данным базы и по данным из интернета " + long,
				Confidence:      0.95,
				DataRoute:       true,
				InternalRows:    12,
				ExternalResults: 5,
			},
			want: 10,
		},
		{
			name: "data route without evidence and apology",
			in: ScoreInput{
				Response:   "К сожалению, данных нет.",
				Confidence: 0.4,
				DataRoute:  true,
			},
			want: 1,
		},
		{
			name: "confidence exactly at medium boundary",
			in:   ScoreInput{Response: "ok", Confidence: 0.7},
			want: 6,
		},
		{
			name: "confidence between low and medium adds nothing",
			in:   ScoreInput{Response: "ok", Confidence: 0.6},
			want: 5,
		},
		{
			name: "length counted in characters not bytes",
			in:   ScoreInput{Response: strings.Repeat("я", 150), Confidence: 0.6},
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreResponse(tt.in, w))
		})
	}
}

func TestScoreResponse_AlwaysClamped(t *testing.T) {
	w := DefaultQualityWeights()
	responses := []string{"", "извините", "по данным базы " + strings.Repeat("x", 300)}
	confidences := []float64{-1, 0, 0.49, 0.5, 0.7, 0.9, 1, 2}

	for _, resp := range responses {
		for _, conf := range confidences {
			for _, dataRoute := range []bool{false, true} {
				for _, rows := range []int{0, 1} {
					for _, results := range []int{0, 3} {
						score := ScoreResponse(ScoreInput{
							Response:        resp,
							Confidence:      conf,
							DataRoute:       dataRoute,
							InternalRows:    rows,
							ExternalResults: results,
						}, w)
						assert.GreaterOrEqual(t, score, MinQualityScore)
						assert.LessOrEqual(t, score, MaxQualityScore)
					}
				}
			}
		}
	}
}

func TestScoreResponse_CustomWeights(t *testing.T) {
	w := DefaultQualityWeights()
	w.Base = 100
	assert.Equal(t, MaxQualityScore, ScoreResponse(ScoreInput{Confidence: 0.6}, w))

	w.Base = -100
	assert.Equal(t, MinQualityScore, ScoreResponse(ScoreInput{Confidence: 0.6}, w))
}

func TestNeedsDisclaimer(t *testing.T) {
	w := DefaultQualityWeights()
	assert.True(t, w.NeedsDisclaimer(4))
	assert.False(t, w.NeedsDisclaimer(5))
}
