package services

import (
	"strings"
	"unicode/utf8"
)

// Score bounds.
const (
	MinQualityScore = 1
	MaxQualityScore = 10
)

// LowQualityDisclaimer is appended to answers scoring below DisclaimerBelow.
const LowQualityDisclaimer = "\n\n⚠️ Ответ может быть неточным: данных для него было недостаточно. Проверьте цифры перед использованием."

// QualityWeights are the point values of the answer quality heuristic. They
// are a starting calibration, not business rules.
type QualityWeights struct {
	Base int

	InternalRows    int // internal query returned at least one row
	ExternalResults int // web search returned at least one result
	NoEvidence      int // a data route produced nothing

	HighConfidence   int // confidence >= HighConfidenceAt
	MediumConfidence int // confidence >= MediumConfidenceAt
	LowConfidence    int // confidence < LowConfidenceBelow

	HighConfidenceAt   float64
	MediumConfidenceAt float64
	LowConfidenceBelow float64

	Substantive       int // response longer than SubstantiveLength runes
	SubstantiveLength int

	Citation        int
	Apology         int
	CitationPhrases []string
	ApologyPhrases  []string

	DisclaimerBelow int
}

// DefaultQualityWeights returns the shipped calibration.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		Base:               5,
		InternalRows:       3,
		ExternalResults:    2,
		NoEvidence:         -3,
		HighConfidence:     2,
		MediumConfidence:   1,
		LowConfidence:      -2,
		HighConfidenceAt:   0.9,
		MediumConfidenceAt: 0.7,
		LowConfidenceBelow: 0.5,
		Substantive:        1,
		SubstantiveLength:  200,
		Citation:           1,
		Apology:            -1,
		DisclaimerBelow:    5,
		CitationPhrases: []string{
			"по данным базы",
			"по данным из интернета",
			"согласно данным",
			"по данным",
			"источник",
			"according to",
			"based on the data",
			"source:",
		},
		ApologyPhrases: []string{
			"извините",
			"к сожалению",
			"не удалось",
			"не могу",
			"sorry",
			"unable to",
			"i cannot",
		},
	}
}

// ScoreInput is what the heuristic looks at for one answer.
type ScoreInput struct {
	Response        string
	Confidence      float64
	DataRoute       bool // the route was expected to produce evidence
	InternalRows    int
	ExternalResults int
}

// ScoreResponse rates an answer from 1 to 10 by how much evidence backed it.
func ScoreResponse(in ScoreInput, w QualityWeights) int {
	score := w.Base

	if in.InternalRows > 0 {
		score += w.InternalRows
	}
	if in.ExternalResults > 0 {
		score += w.ExternalResults
	}
	if in.DataRoute && in.InternalRows == 0 && in.ExternalResults == 0 {
		score += w.NoEvidence
	}

	switch {
	case in.Confidence >= w.HighConfidenceAt:
		score += w.HighConfidence
	case in.Confidence >= w.MediumConfidenceAt:
		score += w.MediumConfidence
	case in.Confidence < w.LowConfidenceBelow:
		score += w.LowConfidence
	}

	if utf8.RuneCountInString(in.Response) > w.SubstantiveLength {
		score += w.Substantive
	}

	lower := strings.ToLower(in.Response)
	if containsAny(lower, w.CitationPhrases) {
		score += w.Citation
	}
	if containsAny(lower, w.ApologyPhrases) {
		score += w.Apology
	}

	return clampScore(score)
}

// NeedsDisclaimer reports whether a score is low enough to warn the user.
func (w QualityWeights) NeedsDisclaimer(score int) bool {
	return score < w.DisclaimerBelow
}

func clampScore(score int) int {
	if score < MinQualityScore {
		return MinQualityScore
	}
	if score > MaxQualityScore {
		return MaxQualityScore
	}
	return score
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
