package health

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/fitclub/internal/model"
)

func day(d int) time.Time {
	return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestAnalyze_Rules(t *testing.T) {
	tests := []struct {
		name    string
		records []*model.HealthRecord
		want    []string
	}{
		{
			name: "体重増加",
			records: []*model.HealthRecord{
				{RecordedOn: day(1), WeightKg: f64(60)},
				{RecordedOn: day(10), WeightKg: f64(61.5)},
			},
			want: []string{"体重が1.5kg増加しています。"},
		},
		{
			name: "体重安定",
			records: []*model.HealthRecord{
				{RecordedOn: day(1), WeightKg: f64(60)},
				{RecordedOn: day(10), WeightKg: f64(60.3)},
			},
			want: []string{"体重は安定しています（60.3kg）。"},
		},
		{
			name: "体重1件のみ",
			records: []*model.HealthRecord{
				{RecordedOn: day(1), WeightKg: f64(58)},
			},
			want: []string{"体重の記録は58.0kgです。"},
		},
		{
			name: "睡眠不足",
			records: []*model.HealthRecord{
				{RecordedOn: day(1), SleepHours: f64(5.0)},
				{RecordedOn: day(2), SleepHours: f64(5.4)},
			},
			want: []string{"平均睡眠時間が5.2時間と不足しています。"},
		},
		{
			name: "睡眠良好",
			records: []*model.HealthRecord{
				{RecordedOn: day(1), SleepHours: f64(7)},
				{RecordedOn: day(2), SleepHours: f64(8)},
			},
			want: []string{"平均睡眠時間は7.5時間で良好です。"},
		},
		{
			name: "歩数少なめ",
			records: []*model.HealthRecord{
				{RecordedOn: day(1), Steps: intp(3000)},
				{RecordedOn: day(2), Steps: intp(4000)},
			},
			want: []string{"1日の平均歩数は3500歩です。まずは5,000歩"},
		},
		{
			name: "歩数中程度",
			records: []*model.HealthRecord{
				{RecordedOn: day(1), Steps: intp(6000)},
			},
			want: []string{"8,000歩を目指しましょう。"},
		},
		{
			name: "体脂肪率低下",
			records: []*model.HealthRecord{
				{RecordedOn: day(1), BodyFatPct: f64(25)},
				{RecordedOn: day(20), BodyFatPct: f64(23)},
			},
			want: []string{"体脂肪率が2.0ポイント下がりました。"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Analyze(tt.records)
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Analyze() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestAnalyze_OrderIndependent(t *testing.T) {
	// リポジトリは新しい順で返すため、入力順ではなく記録日で判定する
	records := []*model.HealthRecord{
		{RecordedOn: day(20), WeightKg: f64(62)},
		{RecordedOn: day(1), WeightKg: f64(64)},
	}

	got, err := Analyze(records)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !strings.HasPrefix(got, "体重が2.0kg減少しました。") {
		t.Errorf("Analyze() = %q", got)
	}
	if !records[0].RecordedOn.Equal(day(20)) {
		t.Error("input slice must not be reordered")
	}
}

func TestAnalyze_MultipleMetricsOnePerLine(t *testing.T) {
	got, err := Analyze([]*model.HealthRecord{
		{RecordedOn: day(1), WeightKg: f64(70), SleepHours: f64(7), Steps: intp(9000)},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if lines := strings.Split(got, "\n"); len(lines) != 3 {
		t.Errorf("lines = %d, want 3: %q", len(lines), got)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	_, err := Analyze(nil)
	assertAPIErrorCode(t, err, model.ErrCodeValidation)
}
