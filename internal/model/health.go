package model

import "time"

// HealthRecord は会員が記録した1日分の健康指標を表す。
// 指標はいずれも任意だが、少なくとも1つは必須。
type HealthRecord struct {
	ID         int64
	UserID     int64
	RecordedOn time.Time
	WeightKg   *float64
	BodyFatPct *float64
	Steps      *int
	SleepHours *float64
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasMetric は指標が1つ以上設定されているかを返す。
func (r *HealthRecord) HasMetric() bool {
	return r.WeightKg != nil || r.BodyFatPct != nil || r.Steps != nil || r.SleepHours != nil
}

// AdviceSource はアドバイスの発行元を表す。
type AdviceSource string

const (
	AdviceSourceStaff AdviceSource = "staff"
	AdviceSourceAI    AdviceSource = "ai"
)

// Advice は会員へのアドバイスを表す。
// スタッフが書いたものとAI分析で生成されたものがある。
type Advice struct {
	ID        int64
	UserID    int64
	Source    AdviceSource
	Content   string
	AuthorID  *int64 // スタッフアドバイスのみ
	CreatedAt time.Time
}
