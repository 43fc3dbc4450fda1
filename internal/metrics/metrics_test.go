package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから名前とラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordSubscription_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSubscription(ResultSuccess)
	c.RecordSubscription(ResultSuccess)
	c.RecordSubscription(ResultInvalid)

	m := findMetric(t, reg, "newsletter_subscriptions_total", map[string]string{"result": ResultSuccess})
	if m == nil {
		t.Fatal("newsletter_subscriptions_total{result=success} not found")
	}
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("success = %v, want 2", v)
	}

	m = findMetric(t, reg, "newsletter_subscriptions_total", map[string]string{"result": ResultInvalid})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("invalid counter = %v, want 1", m)
	}
}

func TestRecordEmailDelivery_LabelsChannelAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEmailDelivery(ChannelOutbox, ResultFailure)

	m := findMetric(t, reg, "newsletter_email_deliveries_total",
		map[string]string{"channel": ChannelOutbox, "result": ResultFailure})
	if m == nil {
		t.Fatal("delivery metric not found")
	}
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("value = %v, want 1", v)
	}
}

func TestRecordNewsletterRecipients_AddsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNewsletterRecipients(3, 1, 2)
	c.RecordNewsletterRecipients(1, 0, 0)

	tests := map[string]float64{"delivered": 4, "skipped": 1, "failed": 2}
	for outcome, want := range tests {
		m := findMetric(t, reg, "newsletter_issue_recipients_total", map[string]string{"outcome": outcome})
		if m == nil {
			t.Fatalf("outcome %q not found", outcome)
		}
		if v := m.GetCounter().GetValue(); v != want {
			t.Errorf("%s = %v, want %v", outcome, v, want)
		}
	}
}

func TestSetOutboxPending_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetOutboxPending(7)
	c.SetOutboxPending(3)

	m := findMetric(t, reg, "newsletter_outbox_pending", nil)
	if m == nil {
		t.Fatal("newsletter_outbox_pending not found")
	}
	if v := m.GetGauge().GetValue(); v != 3 {
		t.Errorf("gauge = %v, want 3", v)
	}
}

func TestRecordPublishLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPublishLatency(1500 * time.Millisecond)

	m := findMetric(t, reg, "newsletter_publish_duration_seconds", nil)
	if m == nil {
		t.Fatal("histogram not found")
	}
	if n := m.GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("sample count = %d, want 1", n)
	}
	if s := m.GetHistogram().GetSampleSum(); s != 1.5 {
		t.Errorf("sample sum = %v, want 1.5", s)
	}
}

// TestNewCollector_DuplicateRegistrationPanics は同じレジストリへの二重登録を検出することを検証する。
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}
