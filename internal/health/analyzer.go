package health

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hitoshi/fitclub/internal/model"
)

// 判定のしきい値
const (
	trendThreshold  = 0.5 // kg / % 未満の変化は「安定」とみなす
	sleepShortHours = 6.0
	sleepGoodHours  = 7.0
	stepsLowPerDay  = 5000
	stepsGoodPerDay = 8000
)

// Analyze は健康記録からアドバイス文を生成する。
// 入力順に依存せず、記録日の昇順に並べ替えて傾向を判定する。
// 記録が1件もない場合はvalidation_errorを返す。
func Analyze(records []*model.HealthRecord) (string, error) {
	if len(records) == 0 {
		return "", model.NewValidationError("記録がありません")
	}

	sorted := make([]*model.HealthRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordedOn.Before(sorted[j].RecordedOn)
	})

	var lines []string
	if line, ok := weightTrend(sorted); ok {
		lines = append(lines, line)
	}
	if line, ok := bodyFatTrend(sorted); ok {
		lines = append(lines, line)
	}
	if line, ok := sleepSummary(sorted); ok {
		lines = append(lines, line)
	}
	if line, ok := stepsSummary(sorted); ok {
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return "", model.NewValidationError("記録がありません")
	}
	return strings.Join(lines, "\n"), nil
}

func weightTrend(records []*model.HealthRecord) (string, bool) {
	values := collect(records, func(r *model.HealthRecord) *float64 { return r.WeightKg })
	switch {
	case len(values) == 0:
		return "", false
	case len(values) == 1:
		return fmt.Sprintf("体重の記録は%.1fkgです。継続して記録しましょう。", values[0]), true
	}

	diff := values[len(values)-1] - values[0]
	switch {
	case math.Abs(diff) < trendThreshold:
		return fmt.Sprintf("体重は安定しています（%.1fkg）。", values[len(values)-1]), true
	case diff < 0:
		return fmt.Sprintf("体重が%.1fkg減少しました。この調子で続けましょう。", -diff), true
	default:
		return fmt.Sprintf("体重が%.1fkg増加しています。食事内容を見直してみましょう。", diff), true
	}
}

func bodyFatTrend(records []*model.HealthRecord) (string, bool) {
	values := collect(records, func(r *model.HealthRecord) *float64 { return r.BodyFatPct })
	if len(values) < 2 {
		return "", false
	}

	diff := values[len(values)-1] - values[0]
	switch {
	case math.Abs(diff) < trendThreshold:
		return fmt.Sprintf("体脂肪率は%.1f%%で横ばいです。", values[len(values)-1]), true
	case diff < 0:
		return fmt.Sprintf("体脂肪率が%.1fポイント下がりました。", -diff), true
	default:
		return fmt.Sprintf("体脂肪率が%.1fポイント上がっています。有酸素運動を取り入れてみましょう。", diff), true
	}
}

func sleepSummary(records []*model.HealthRecord) (string, bool) {
	values := collect(records, func(r *model.HealthRecord) *float64 { return r.SleepHours })
	if len(values) == 0 {
		return "", false
	}

	avg := mean(values)
	switch {
	case avg < sleepShortHours:
		return fmt.Sprintf("平均睡眠時間が%.1f時間と不足しています。7時間以上を目標にしましょう。", avg), true
	case avg >= sleepGoodHours:
		return fmt.Sprintf("平均睡眠時間は%.1f時間で良好です。", avg), true
	default:
		return fmt.Sprintf("平均睡眠時間は%.1f時間です。もう少し睡眠を確保できるとより良いでしょう。", avg), true
	}
}

func stepsSummary(records []*model.HealthRecord) (string, bool) {
	var values []float64
	for _, r := range records {
		if r.Steps != nil {
			values = append(values, float64(*r.Steps))
		}
	}
	if len(values) == 0 {
		return "", false
	}

	avg := int(math.Round(mean(values)))
	switch {
	case avg < stepsLowPerDay:
		return fmt.Sprintf("1日の平均歩数は%d歩です。まずは5,000歩を目標に歩きましょう。", avg), true
	case avg >= stepsGoodPerDay:
		return fmt.Sprintf("1日の平均歩数は%d歩で活動的です。", avg), true
	default:
		return fmt.Sprintf("1日の平均歩数は%d歩です。8,000歩を目指しましょう。", avg), true
	}
}

func collect(records []*model.HealthRecord, field func(*model.HealthRecord) *float64) []float64 {
	var values []float64
	for _, r := range records {
		if v := field(r); v != nil {
			values = append(values, *v)
		}
	}
	return values
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
