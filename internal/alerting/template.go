package alerting

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// unknownValue is rendered for placeholders that are not known or have no
// data for the subject
const unknownValue = "unknown"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Render substitutes {{name}} placeholders from vars. Any braced name with
// no value, including malformed ones, renders as unknown.
func Render(tmpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := strings.ToLower(strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1]))
		if v, ok := vars[name]; ok && v != "" {
			return v
		}
		return unknownValue
	})
}

// templateVars collects every placeholder value available for the subject
func templateVars(rule *types.AlertRule, s *Subject, metric float64) map[string]string {
	score := s.Score
	vars := map[string]string{
		"entity_name":  score.EntityName,
		"score":        strconv.Itoa(score.OverallScore),
		"status":       string(score.Status),
		"risk_level":   string(score.RiskLevel),
		"threshold":    formatNumber(rule.ThresholdValue),
		"metric_value": formatNumber(metric),
		"risk_factors": strings.Join(score.RiskFactors, ", "),
	}

	if s.Entity != nil {
		if vars["entity_name"] == "" {
			vars["entity_name"] = s.Entity.Name
		}
		vars["company"] = s.Entity.CompanyName
	}
	if score.EntityKind == types.KindDeal {
		vars["deal_name"] = vars["entity_name"]
	}
	if stage := s.stage(); stage != "" {
		vars["stage"] = stage
	}
	if v, ok := s.value(); ok {
		vars["value"] = v.StringFixed(2)
	}

	var sentiment *types.SentimentSummary
	if m := score.DealMetrics; m != nil {
		sentiment = &m.Sentiment
		if m.DaysInStage != nil {
			vars["days_in_stage"] = strconv.Itoa(*m.DaysInStage)
		}
		if m.DaysUntilClose != nil {
			vars["days_until_close"] = strconv.Itoa(*m.DaysUntilClose)
		}
	} else if m := score.RelationshipMetrics; m != nil {
		sentiment = &m.Sentiment
	}
	if sentiment != nil && sentiment.Delta != nil {
		vars["sentiment_delta"] = strconv.FormatFloat(*sentiment.Delta, 'f', 2, 64)
	}
	return vars
}

// formatNumber prints whole numbers without a fraction
func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
