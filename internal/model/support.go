package model

import "time"

// QuestionStatus は質問の状態。
type QuestionStatus string

const (
	QuestionStatusOpen     QuestionStatus = "open"
	QuestionStatusAnswered QuestionStatus = "answered"
)

// Question は会員からトレーナーへの質問を表す。
type Question struct {
	ID         int64
	UserID     int64
	Title      string
	Body       string
	Status     QuestionStatus
	Answer     *string
	AnsweredBy *int64
	AnsweredAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InquiryCategory は問い合わせの分類。
type InquiryCategory string

const (
	InquiryCategoryGeneral  InquiryCategory = "general"
	InquiryCategoryBilling  InquiryCategory = "billing"
	InquiryCategoryFacility InquiryCategory = "facility"
	InquiryCategoryAccount  InquiryCategory = "account"
)

// Valid は定義済みの分類かどうかを返す。
func (c InquiryCategory) Valid() bool {
	switch c {
	case InquiryCategoryGeneral, InquiryCategoryBilling, InquiryCategoryFacility, InquiryCategoryAccount:
		return true
	}
	return false
}

// InquiryStatus は問い合わせの対応状況。
type InquiryStatus string

const (
	InquiryStatusOpen       InquiryStatus = "open"
	InquiryStatusInProgress InquiryStatus = "in_progress"
	InquiryStatusResolved   InquiryStatus = "resolved"
)

// Valid は定義済みの状態かどうかを返す。
func (s InquiryStatus) Valid() bool {
	switch s {
	case InquiryStatusOpen, InquiryStatusInProgress, InquiryStatusResolved:
		return true
	}
	return false
}

// Inquiry はサポート問い合わせ（チケット）を表す。
// Ticket は会員に案内する受付番号（ULID）。
type Inquiry struct {
	ID          int64
	Ticket      string
	UserID      int64
	Category    InquiryCategory
	Subject     string
	Message     string
	Status      InquiryStatus
	Response    *string
	RespondedBy *int64
	RespondedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
