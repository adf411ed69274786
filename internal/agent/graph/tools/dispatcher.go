package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"golang.org/x/sync/errgroup"

	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/metrics"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

const defaultConditionConcurrency = 4

// Dispatcher runs the data lookups for a complete query. Weather and
// medical research run concurrently and both finish before Dispatch returns.
type Dispatcher struct {
	weather     tool.InvokableTool
	medical     tool.InvokableTool
	concurrency int
}

// NewDispatcher wraps the providers as eino tools. A nil provider leaves
// that tool permanently absent.
func NewDispatcher(w WeatherProvider, m MedicalSearcher, topK int) *Dispatcher {
	d := &Dispatcher{concurrency: defaultConditionConcurrency}
	if w != nil {
		d.weather = NewWeatherTool(w)
	}
	if m != nil {
		d.medical = NewMedicalTool(m, topK)
	}
	return d
}

// Dispatch returns one ToolResult per tool. It never fails: tool errors
// become failed results and missing inputs become absent results.
func (d *Dispatcher) Dispatch(ctx context.Context, pq *model.ParsedQuery, cc *model.ConversationContext) map[string]model.ToolResult {
	var (
		weather model.ToolResult
		medical model.ToolResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		weather = d.dispatchWeather(gctx, pq, cc)
		return nil
	})
	g.Go(func() error {
		medical = d.dispatchMedical(gctx, pq, cc)
		return nil
	})
	_ = g.Wait()

	for _, r := range []model.ToolResult{weather, medical} {
		metrics.ToolResults.WithLabelValues(r.Tool, string(r.Status)).Inc()
	}
	return map[string]model.ToolResult{
		model.ToolWeather: weather,
		model.ToolMedical: medical,
	}
}

func (d *Dispatcher) dispatchWeather(ctx context.Context, pq *model.ParsedQuery, cc *model.ConversationContext) model.ToolResult {
	res := model.ToolResult{Tool: model.ToolWeather, Status: model.ToolStatusAbsent}
	info := cc.ExtractedInfo
	switch {
	case pq == nil || !pq.RequiredActions.NeedsWeatherData:
		res.Reason = "not requested"
		return res
	case !info.HasLocation():
		res.Reason = "no location"
		return res
	case !info.DateRange.Complete():
		res.Reason = "no date range"
		return res
	case d.weather == nil:
		res.Reason = "weather provider not configured"
		return res
	}

	out, err := runTool(ctx, d.weather, model.ToolWeather, WeatherInput{
		Location:  *info.Location,
		StartDate: *info.DateRange.Start,
		EndDate:   *info.DateRange.End,
	})
	if err != nil {
		logx.Warn().Err(err).Str("tool", model.ToolWeather).Msg("weather lookup failed")
		res.Status = model.ToolStatusFailed
		res.Reason = weatherReason(err)
		return res
	}
	res.Status = model.ToolStatusOK
	res.Data = json.RawMessage(out)
	return res
}

func (d *Dispatcher) dispatchMedical(ctx context.Context, pq *model.ParsedQuery, cc *model.ConversationContext) model.ToolResult {
	res := model.ToolResult{Tool: model.ToolMedical, Status: model.ToolStatusAbsent}
	conditions := Conditions(cc)
	switch {
	case pq == nil || !pq.RequiredActions.NeedsMedicalResearch:
		res.Reason = "not requested"
		return res
	case len(conditions) == 0:
		res.Reason = "no health condition"
		return res
	case d.medical == nil:
		res.Reason = "medical search not configured"
		return res
	}

	perCondition := make([][]model.MedicalFinding, len(conditions))
	var (
		mu     sync.Mutex
		failed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, cond := range conditions {
		g.Go(func() error {
			out, err := runTool(gctx, d.medical, model.ToolMedical, MedicalInput{Condition: cond})
			if err == nil {
				var decoded MedicalOutput
				if err = json.Unmarshal([]byte(out), &decoded); err == nil {
					perCondition[i] = decoded.Findings
					return nil
				}
			}
			logx.Warn().Err(err).Str("tool", model.ToolMedical).Str("condition", cond).Msg("medical lookup failed")
			mu.Lock()
			failed = append(failed, cond)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == len(conditions) {
		res.Status = model.ToolStatusFailed
		res.Reason = "search failed for " + strings.Join(failed, ", ")
		return res
	}

	findings := []model.MedicalFinding{}
	for _, f := range perCondition {
		findings = append(findings, f...)
	}
	if len(findings) == 0 {
		res.Reason = "no matching research found"
		return res
	}

	b, err := json.Marshal(findings)
	if err != nil {
		res.Status = model.ToolStatusFailed
		res.Reason = err.Error()
		return res
	}
	res.Status = model.ToolStatusOK
	res.Data = b
	if len(failed) > 0 {
		res.Reason = "partial: search failed for " + strings.Join(failed, ", ")
	}
	return res
}

// Conditions returns the extracted condition followed by the profile
// conditions, trimmed and de-duplicated case-insensitively.
func Conditions(cc *model.ConversationContext) []string {
	var candidates []string
	if cc.ExtractedInfo.HasHealthCondition() {
		candidates = append(candidates, *cc.ExtractedInfo.HealthCondition)
	}
	candidates = append(candidates, cc.UserInfo.Conditions...)

	seen := map[string]bool{}
	out := []string{}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// runTool invokes an eino tool with tool callbacks attached.
func runTool(ctx context.Context, t tool.InvokableTool, name string, in any) (out string, err error) {
	args, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal %s input: %w", name, err)
	}

	ctx = einocb.ReuseHandlers(ctx, &einocb.RunInfo{Name: name, Type: "Local", Component: components.ComponentOfTool})
	ctx = einocb.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: string(args)})
	out, err = t.InvokableRun(ctx, string(args))
	if err != nil {
		einocb.OnError(ctx, err)
		return "", err
	}
	einocb.OnEnd(ctx, &tool.CallbackOutput{Response: out})
	return out, nil
}

func weatherReason(err error) string {
	var we *WeatherError
	if errors.As(err, &we) {
		return string(we.Kind) + ": " + we.Message
	}
	return err.Error()
}
