package cron

import (
	"strings"
	"testing"
	"time"
)

func validJob() *Job {
	return &Job{
		ID:       NewJobID(),
		AgentID:  "agent-1",
		Name:     "daily-report",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleEvery, EverySecs: 3600},
		Action:   Action{Kind: ActionSystemEvent, Text: "ping"},
		Delivery: Delivery{Kind: DeliveryNone},
		CreatedAt: time.Now(),
	}
}

func TestJobIDRoundTrip(t *testing.T) {
	id := NewJobID()
	parsed, err := ParseJobID(id.String())
	if err != nil {
		t.Fatalf("ParseJobID: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %v != %v", parsed, id)
	}
}

func TestValidJobPasses(t *testing.T) {
	if err := validJob().Validate(0); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestEmptyNameRejected(t *testing.T) {
	j := validJob()
	j.Name = ""
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected empty-name error, got %v", err)
	}
}

func TestLongNameRejected(t *testing.T) {
	j := validJob()
	j.Name = strings.Repeat("a", 129)
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too long") {
		t.Fatalf("expected too-long error, got %v", err)
	}
}

func TestName128CharsOK(t *testing.T) {
	j := validJob()
	j.Name = strings.Repeat("a", 128)
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestNameSpecialCharsRejected(t *testing.T) {
	j := validJob()
	j.Name = "my job!"
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "alphanumeric") {
		t.Fatalf("expected alphanumeric error, got %v", err)
	}
}

func TestNameWithSpacesHyphensUnderscoresOK(t *testing.T) {
	j := validJob()
	j.Name = "My Daily-Report_v2"
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestMaxJobsRejected(t *testing.T) {
	j := validJob()
	err := j.Validate(MaxJobsPerAgent)
	if err == nil || !strings.Contains(err.Error(), "50") {
		t.Fatalf("expected max-jobs error, got %v", err)
	}
}

func TestUnderMaxJobsOK(t *testing.T) {
	j := validJob()
	if err := j.Validate(MaxJobsPerAgent - 1); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestEveryTooSmall(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleEvery, EverySecs: 59}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too small") {
		t.Fatalf("expected too-small error, got %v", err)
	}
}

func TestEveryTooLarge(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleEvery, EverySecs: 86_401}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected too-large error, got %v", err)
	}
}

func TestEveryBoundariesOK(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleEvery, EverySecs: 60}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok at min boundary, got %v", err)
	}
	j.Schedule = Schedule{Kind: ScheduleEvery, EverySecs: 86_400}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok at max boundary, got %v", err)
	}
}

func TestAtInPastRejected(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleAt, At: time.Now().Add(-10 * time.Second)}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "future") {
		t.Fatalf("expected future error, got %v", err)
	}
}

func TestAtTooFarFutureRejected(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleAt, At: time.Now().Add(366 * 24 * time.Hour)}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too far") {
		t.Fatalf("expected too-far error, got %v", err)
	}
}

func TestAtNearFutureOK(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleAt, At: time.Now().Add(time.Hour)}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestCronValidExpr(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleCron, Expr: "0 9 * * 1-5", TZ: "America/New_York"}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestCronEmptyExpr(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleCron, Expr: ""}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected empty error, got %v", err)
	}
}

func TestCronWrongFieldCount(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleCron, Expr: "0 9 * *"}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "5 fields") {
		t.Fatalf("expected field-count error, got %v", err)
	}
}

func TestCronInvalidChars(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleCron, Expr: "0 9 * * MON"}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "invalid characters") {
		t.Fatalf("expected invalid-chars error, got %v", err)
	}
}

func TestCronExtraWhitespaceOK(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleCron, Expr: "  0  9  *  *  *  "}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestCronSixFieldsRejected(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleCron, Expr: "0 0 9 * * 1"}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "5 fields") {
		t.Fatalf("expected field-count error, got %v", err)
	}
}

func TestCronSlashAndCommaOK(t *testing.T) {
	j := validJob()
	j.Schedule = Schedule{Kind: ScheduleCron, Expr: "*/15 0,12 1-15 * 1,3,5"}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestSystemEventEmptyText(t *testing.T) {
	j := validJob()
	j.Action = Action{Kind: ActionSystemEvent, Text: ""}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected empty error, got %v", err)
	}
}

func TestSystemEventTextTooLong(t *testing.T) {
	j := validJob()
	j.Action = Action{Kind: ActionSystemEvent, Text: strings.Repeat("x", 4097)}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too long") {
		t.Fatalf("expected too-long error, got %v", err)
	}
}

func TestAgentTurnEmptyMessage(t *testing.T) {
	j := validJob()
	j.Action = Action{Kind: ActionAgentTurn, Message: ""}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected empty error, got %v", err)
	}
}

func TestAgentTurnMessageTooLong(t *testing.T) {
	j := validJob()
	j.Action = Action{Kind: ActionAgentTurn, Message: strings.Repeat("x", 16_385)}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too long") {
		t.Fatalf("expected too-long error, got %v", err)
	}
}

func TestAgentTurnTimeoutBounds(t *testing.T) {
	j := validJob()
	j.Action = Action{Kind: ActionAgentTurn, Message: "hello", TimeoutSecs: 9}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too small") {
		t.Fatalf("expected too-small error, got %v", err)
	}

	j.Action = Action{Kind: ActionAgentTurn, Message: "hello", TimeoutSecs: 601}
	err = j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected too-large error, got %v", err)
	}

	j.Action = Action{Kind: ActionAgentTurn, Message: "hello", TimeoutSecs: 10}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok at min boundary, got %v", err)
	}
	j.Action = Action{Kind: ActionAgentTurn, Message: "hello", TimeoutSecs: 600}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok at max boundary, got %v", err)
	}
	j.Action = Action{Kind: ActionAgentTurn, Message: "hello"}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok with no timeout, got %v", err)
	}
}

func TestDeliveryChannelValidation(t *testing.T) {
	j := validJob()
	j.Delivery = Delivery{Kind: DeliveryChannel, Channel: "", To: "user123"}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "channel must not be empty") {
		t.Fatalf("expected channel-empty error, got %v", err)
	}

	j.Delivery = Delivery{Kind: DeliveryChannel, Channel: "slack", To: ""}
	err = j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "recipient must not be empty") {
		t.Fatalf("expected recipient-empty error, got %v", err)
	}

	j.Delivery = Delivery{Kind: DeliveryChannel, Channel: "telegram", To: "chat_12345"}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestWebhookValidation(t *testing.T) {
	j := validJob()
	j.Delivery = Delivery{Kind: DeliveryWebhook, URL: "ftp://example.com/hook"}
	err := j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "http://") {
		t.Fatalf("expected scheme error, got %v", err)
	}

	j.Delivery = Delivery{Kind: DeliveryWebhook, URL: "https://example.com/" + strings.Repeat("a", 2048)}
	err = j.Validate(0)
	if err == nil || !strings.Contains(err.Error(), "too long") {
		t.Fatalf("expected too-long error, got %v", err)
	}

	j.Delivery = Delivery{Kind: DeliveryWebhook, URL: "http://localhost:8080/hook"}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok (http), got %v", err)
	}
	j.Delivery = Delivery{Kind: DeliveryWebhook, URL: "https://example.com/hook"}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok (https), got %v", err)
	}
}

func TestDeliveryNoneAndLastChannelOK(t *testing.T) {
	j := validJob()
	j.Delivery = Delivery{Kind: DeliveryNone}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	j.Delivery = Delivery{Kind: DeliveryLastChannel}
	if err := j.Validate(0); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}
