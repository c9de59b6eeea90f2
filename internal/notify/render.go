// Package notify delivers operator notifications for finished batches and
// automatic rollbacks. Messages are rendered from Liquid templates and sent
// through SES, or written to the structured log when e-mail is disabled.
package notify

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/spend-optimizer/internal/domain"
)

const (
	batchSubject = `[spend-optimizer] {{ batch.source }} batch {{ batch.status }} for {{ batch.scope_id }}`
	batchBody    = `Batch {{ batch.id }} ({{ batch.source }}) finished with status {{ batch.status }}.
Applied: {{ batch.succeeded }}  Failed: {{ batch.failed }}  Skipped: {{ batch.skipped }}  Total: {{ batch.total }}
{% if batch.failed > 0 %}
Failed changes:
{% for r in failures %}- {{ r.segment_id }} {{ r.action }} -> {{ r.new_value | fixed }}: {{ r.error }}
{% endfor %}{% endif %}`

	rollbackSubject = `[spend-optimizer] rolled back {{ record.action }} on {{ record.segment_id }}`
	rollbackBody    = `Change {{ record.id }} on {{ record.segment_id }} ({{ record.action }} {{ record.previous_value | fixed }} -> {{ record.new_value | fixed }}) was rolled back automatically.
Effect score {{ report.score | fixed }} ({{ report.rating }}).
ROAS {{ report.roas_before | fixed }} -> {{ report.roas_after | fixed }}, spend/day {{ report.spend_after | fixed }}.
{{ report.summary }}`
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Renderer renders notification templates. Parsed templates are cached.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the numeric filters registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("fixed", func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	})
	return &Renderer{engine: engine}
}

func (r *Renderer) render(key, src string, bindings map[string]interface{}) (string, error) {
	if cached, ok := r.cache.Load(key); ok {
		out, err := cached.(*liquid.Template).RenderString(bindings)
		if err != nil {
			return "", fmt.Errorf("render %s: %w", key, err)
		}
		return out, nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", key, err)
	}
	r.cache.Store(key, tpl)
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return out, nil
}

func (r *Renderer) message(name, subject, body string, bindings map[string]interface{}) (Message, error) {
	s, err := r.render(name+".subject", subject, bindings)
	if err != nil {
		return Message{}, err
	}
	b, err := r.render(name+".body", body, bindings)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: s, Body: b}, nil
}

// BatchMessage renders the batch summary notification.
func (r *Renderer) BatchMessage(sum domain.ExecutionSummary) (Message, error) {
	b := sum.Batch
	var failures []map[string]interface{}
	for _, rec := range sum.Records {
		if rec.Status == domain.RecordFailed {
			failures = append(failures, recordBindings(rec))
		}
	}
	return r.message("batch", batchSubject, batchBody, map[string]interface{}{
		"batch": map[string]interface{}{
			"id":        b.ID,
			"scope_id":  b.ScopeID,
			"source":    string(b.Source),
			"status":    string(b.Status),
			"total":     b.Total,
			"succeeded": b.Succeeded,
			"failed":    b.Failed,
			"skipped":   b.Skipped,
		},
		"failures": failures,
	})
}

// RollbackMessage renders the automatic rollback notification.
func (r *Renderer) RollbackMessage(rec domain.ExecutionRecord, report domain.TrackingReport) (Message, error) {
	return r.message("rollback", rollbackSubject, rollbackBody, map[string]interface{}{
		"record": recordBindings(rec),
		"report": map[string]interface{}{
			"score":       report.Score,
			"rating":      string(report.Rating),
			"roas_before": report.Baseline.ROAS,
			"roas_after":  report.Current.ROAS,
			"spend_after": report.Current.Spend,
			"summary":     report.Summary,
		},
	})
}

func recordBindings(rec domain.ExecutionRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":             rec.ID,
		"segment_id":     rec.SegmentID,
		"action":         string(rec.Action),
		"previous_value": rec.PreviousValue,
		"new_value":      rec.NewValue,
		"error":          rec.Error,
	}
}
